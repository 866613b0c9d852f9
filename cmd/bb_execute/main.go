package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"time"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-remote-client/pkg/remoteexecutor"
	"github.com/buildbarn/bb-remote-client/pkg/retry"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/digest"
	"github.com/buildbarn/bb-storage/pkg/random"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// bb_execute runs a single action that is already present in the
// Content Addressable Storage and prints the resulting ActionResult.
// This is mainly useful for rerunning actions that were originally
// submitted by a build client, e.g. to reproduce flaky behavior on
// specific workers.

func main() {
	var (
		address          = pflag.String("address", "", "Address of the remote execution service (required)")
		instanceName     = pflag.String("instance-name", "", "Instance name to pass to the remote execution service")
		digestFunction   = pflag.String("digest-function", "SHA256", "Digest function that was used to compute the action digest")
		actionHash       = pflag.String("action-hash", "", "Hash of the action to execute (required)")
		actionSizeBytes  = pflag.Int64("action-size-bytes", 0, "Size of the action to execute")
		skipCacheLookup  = pflag.Bool("skip-cache-lookup", false, "Force execution, even if a cached result exists")
		priority         = pflag.Int32("priority", 0, "Execution priority, where smaller values run earlier")
		callTimeout      = pflag.Duration("call-timeout", 5*time.Minute, "Deadline applied to every individual Execute and WaitExecution call")
		initialDelay     = pflag.Duration("retry-initial-delay", time.Second, "Delay after the first failed call")
		maximumDelay     = pflag.Duration("retry-maximum-delay", 32*time.Second, "Upper bound on the delay between calls")
		maximumRetries   = pflag.Int("retry-maximum-attempts", 5, "Number of times a failed call is retried")
		browserURLString = pflag.String("browser-url", "", "URL of a bb_browser instance, used to print links to the action")
	)
	pflag.Parse()

	if *address == "" {
		log.Fatal("No remote execution service address provided")
	}
	digestFunctionValue, ok := remoteexecution.DigestFunction_Value_value[*digestFunction]
	if !ok {
		log.Fatalf("Unknown digest function %#v", *digestFunction)
	}
	request := &remoteexecution.ExecuteRequest{
		InstanceName: *instanceName,
		ActionDigest: &remoteexecution.Digest{
			Hash:      *actionHash,
			SizeBytes: *actionSizeBytes,
		},
		DigestFunction:  remoteexecution.DigestFunction_Value(digestFunctionValue),
		SkipCacheLookup: *skipCacheLookup,
	}
	if *priority != 0 {
		request.ExecutionPolicy = &remoteexecution.ExecutionPolicy{
			Priority: *priority,
		}
	}

	// Reject malformed digests up front, instead of having the
	// service discover them.
	parsedInstanceName, err := digest.NewInstanceName(*instanceName)
	if err != nil {
		log.Fatalf("Invalid instance name %#v: %s", *instanceName, err)
	}
	parsedDigestFunction, err := parsedInstanceName.GetDigestFunction(remoteexecution.DigestFunction_Value(digestFunctionValue), 0)
	if err != nil {
		log.Fatal("Invalid digest function: ", err)
	}
	if _, err := parsedDigestFunction.NewDigestFromProto(request.GetActionDigest()); err != nil {
		log.Fatal("Invalid action digest: ", err)
	}

	connection, err := grpc.NewClient(
		*address,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to create gRPC client for %#v: %s", *address, err)
	}

	backoffFactory := retry.NewExponentialBackoffFactory(
		random.FastThreadSafeGenerator,
		*initialDelay,
		*maximumDelay,
		/* multiplier = */ 2.0,
		/* jitter = */ 0.25,
		*maximumRetries)
	var executor remoteexecutor.RemoteExecutor = remoteexecutor.NewKeepaliveRemoteExecutor(
		remoteexecution.NewExecutionClient(connection),
		retry.NewStatusCodeRetrier(clock.SystemClock, retry.DefaultRetriableCodes),
		backoffFactory,
		backoffFactory,
		remoteexecutor.NoopCredentialsRefresher,
		*callTimeout)
	executor = remoteexecutor.NewMetricsRemoteExecutor(executor, clock.SystemClock, "keepalive")
	executor = remoteexecutor.NewTracingRemoteExecutor(executor, otel.GetTracerProvider())
	if *browserURLString != "" {
		browserURL, err := url.Parse(*browserURLString)
		if err != nil {
			log.Fatalf("Failed to parse browser URL %#v: %s", *browserURLString, err)
		}
		executor = remoteexecutor.NewLoggingRemoteExecutor(executor, browserURL)
	}
	client := remoteexecutor.NewClient(executor, connection)

	// Attach RequestMetadata, so that the service can attribute the
	// execution to this invocation.
	requestMetadata, err := proto.Marshal(&remoteexecution.RequestMetadata{
		ToolDetails: &remoteexecution.ToolDetails{
			ToolName: "bb_execute",
		},
		ToolInvocationId: uuid.Must(uuid.NewRandom()).String(),
		ActionId:         *actionHash,
	})
	if err != nil {
		log.Fatal("Failed to marshal request metadata: ", err)
	}
	ctx := metadata.AppendToOutgoingContext(
		context.Background(),
		"build.bazel.remote.execution.v2.requestmetadata-bin", string(requestMetadata))

	response, err := client.Execute(ctx, request, remoteexecutor.NewLoggingOperationObserver())
	if err != nil {
		log.Fatal("Execution failed: ", err)
	}
	result := response.GetResult()
	resultText, err := prototext.MarshalOptions{Multiline: true}.Marshal(result)
	if err != nil {
		log.Fatal("Failed to marshal action result: ", err)
	}
	os.Stdout.Write(resultText)

	if err := client.Close(); err != nil {
		log.Print("Failed to close client: ", err)
	}
	os.Exit(int(result.GetExitCode()))
}
