// Package k8s reads cluster state through client-go and reshapes it into
// flat, JSON-friendly result records. Every operation is read-only and makes
// one round of API calls; nothing is cached except the clientsets themselves.
package k8s

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// ErrMetricsUnavailable is returned by Clients.Metrics when no metrics.k8s.io
// client has been configured.
var ErrMetricsUnavailable = errors.New("metrics API client not configured")

// requestTimeout bounds every API request issued through a Provider.
const requestTimeout = 10 * time.Second

// Clients hands out the clientsets used by Reader.
type Clients interface {
	Kube() (kubernetes.Interface, error)
	Metrics() (metricsclient.Interface, error)
}

// InCluster reports whether the process runs inside a pod, judged by the
// service host variable the kubelet injects.
func InCluster() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// Provider builds clientsets lazily and reuses them for the life of the process.
type Provider struct {
	kubeContext string

	mu      sync.Mutex
	config  *rest.Config
	kube    kubernetes.Interface
	metrics metricsclient.Interface
}

// NewProvider returns a Provider. kubeContext overrides the kubeconfig's
// current context and is ignored when running in-cluster.
func NewProvider(kubeContext string) *Provider {
	return &Provider{kubeContext: kubeContext}
}

// restConfig must be called with p.mu held.
func (p *Provider) restConfig() (*rest.Config, error) {
	if p.config != nil {
		return p.config, nil
	}

	var config *rest.Config
	var err error
	if InCluster() {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, diagnoseClientError(err)
		}
		slog.Info("using in-cluster config")
	} else {
		overrides := &clientcmd.ConfigOverrides{CurrentContext: p.kubeContext}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			clientcmd.NewDefaultClientConfigLoadingRules(), overrides,
		).ClientConfig()
		if err != nil {
			return nil, diagnoseClientError(err)
		}
		slog.Info("using kubeconfig", "context", p.kubeContext)
	}

	config.Timeout = requestTimeout
	p.config = config
	return config, nil
}

// Kube returns the core clientset.
func (p *Provider) Kube() (kubernetes.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.kube != nil {
		return p.kube, nil
	}
	config, err := p.restConfig()
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, diagnoseClientError(err)
	}
	p.kube = cs
	slog.Debug("k8s clientset created", "context", p.kubeContext)
	return cs, nil
}

// Metrics returns the metrics.k8s.io clientset.
func (p *Provider) Metrics() (metricsclient.Interface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.metrics != nil {
		return p.metrics, nil
	}
	config, err := p.restConfig()
	if err != nil {
		return nil, err
	}
	mc, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, diagnoseClientError(err)
	}
	p.metrics = mc
	return mc, nil
}

// Static serves fixed clientsets. Tests use it with the fake clientsets.
type Static struct {
	KubeClient    kubernetes.Interface
	MetricsClient metricsclient.Interface
}

// Kube implements Clients.
func (s Static) Kube() (kubernetes.Interface, error) {
	if s.KubeClient == nil {
		return nil, errors.New("kubernetes client not configured")
	}
	return s.KubeClient, nil
}

// Metrics implements Clients.
func (s Static) Metrics() (metricsclient.Interface, error) {
	if s.MetricsClient == nil {
		return nil, ErrMetricsUnavailable
	}
	return s.MetricsClient, nil
}
