package remoteexecutor

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/longrunning/autogen/longrunningpb"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	remoteExecutorPrometheusMetrics sync.Once

	remoteExecutorDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "remoteexecutor",
			Name:      "remote_executor_duration_seconds",
			Help:      "Amount of time spent executing an action remotely, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"name", "grpc_code"})
	remoteExecutorOperationsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "remoteexecutor",
			Name:      "remote_executor_operations_received_total",
			Help:      "Number of operations received over Execute and WaitExecution streams, per execution stage.",
		},
		[]string{"name", "stage"})
)

type metricsRemoteExecutor struct {
	RemoteExecutor
	clock clock.Clock
	name  string
}

// NewMetricsRemoteExecutor creates a decorator for RemoteExecutor that
// exposes Prometheus metrics on the durations and outcomes of
// executions, and on the operations received while they ran.
func NewMetricsRemoteExecutor(base RemoteExecutor, clock clock.Clock, name string) RemoteExecutor {
	remoteExecutorPrometheusMetrics.Do(func() {
		prometheus.MustRegister(remoteExecutorDurationSeconds)
		prometheus.MustRegister(remoteExecutorOperationsReceivedTotal)
	})

	return &metricsRemoteExecutor{
		RemoteExecutor: base,
		clock:          clock,
		name:           name,
	}
}

func (re *metricsRemoteExecutor) Execute(ctx context.Context, request *remoteexecution.ExecuteRequest, observer OperationObserver) (*remoteexecution.ExecuteResponse, error) {
	timeStart := re.clock.Now()
	response, err := re.RemoteExecutor.Execute(ctx, request, &operationCountingObserver{
		base: observer,
		name: re.name,
	})
	code := codes.OK
	if err != nil {
		var executionStatusError *ExecutionStatusError
		if errors.As(err, &executionStatusError) {
			code = codes.Code(executionStatusError.Status.GetCode())
		} else {
			code = status.Code(err)
		}
	}
	remoteExecutorDurationSeconds.
		WithLabelValues(re.name, code.String()).
		Observe(re.clock.Now().Sub(timeStart).Seconds())
	return response, err
}

type operationCountingObserver struct {
	base OperationObserver
	name string
}

func (o *operationCountingObserver) OnOperation(operation *longrunningpb.Operation) {
	o.base.OnOperation(operation)
	remoteExecutorOperationsReceivedTotal.
		WithLabelValues(o.name, getOperationStage(operation).String()).
		Inc()
}
