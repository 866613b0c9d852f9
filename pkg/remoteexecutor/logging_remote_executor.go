package remoteexecutor

import (
	"context"
	"log"
	"net/url"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	re_util "github.com/buildbarn/bb-remote-client/pkg/util"
	"github.com/buildbarn/bb-storage/pkg/digest"

	"google.golang.org/protobuf/encoding/protojson"
)

type loggingRemoteExecutor struct {
	RemoteExecutor
	browserURL *url.URL
}

// NewLoggingRemoteExecutor wraps an existing RemoteExecutor, adding
// basic logging. A link to bb_browser is printed prior to executing
// the action. A JSON representation of the ExecuteResponse is logged
// after completion.
func NewLoggingRemoteExecutor(base RemoteExecutor, browserURL *url.URL) RemoteExecutor {
	return &loggingRemoteExecutor{
		RemoteExecutor: base,
		browserURL:     browserURL,
	}
}

func (re *loggingRemoteExecutor) Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error) {
	if actionDigest, err := getActionDigest(request); err == nil {
		log.Print("Action: ", re_util.GetActionURL(re.browserURL, actionDigest))
	} else {
		log.Print("Action: Failed to extract digest: ", err)
	}

	response, err := re.RemoteExecutor.Execute(ctx, request, observer)

	if err != nil {
		log.Print("ExecuteResponse: ", err)
	} else if responseJSON, marshalErr := protojson.Marshal(response); marshalErr == nil {
		log.Print("ExecuteResponse: ", string(responseJSON))
	} else {
		log.Print("ExecuteResponse: Failed to marshal: ", marshalErr)
	}
	return response, err
}

func getActionDigest(request *remoteexecution.ExecuteRequest) (digest.Digest, error) {
	instanceName, err := digest.NewInstanceName(request.GetInstanceName())
	if err != nil {
		return digest.BadDigest, err
	}
	digestFunction, err := instanceName.GetDigestFunction(request.GetDigestFunction(), 0)
	if err != nil {
		return digest.BadDigest, err
	}
	return digestFunction.NewDigestFromProto(request.GetActionDigest())
}
