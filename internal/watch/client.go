package watch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NamespaceFile is where the service account's namespace is mounted in a pod
const NamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// SecretsResource identifies core/v1 secrets for the dynamic client
var SecretsResource = schema.GroupVersionResource{Version: "v1", Resource: "secrets"}

// ReadNamespace reads the namespace the pod runs in
func ReadNamespace(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read namespace file: %w", err)
	}
	ns := strings.TrimSpace(string(data))
	if ns == "" {
		return "", fmt.Errorf("namespace file %s is empty", path)
	}
	return ns, nil
}

// ResolveNamespace picks the namespace to watch: an explicit override, then
// the kubeconfig context when running outside the cluster, then the service
// account namespace file
func ResolveNamespace(override, kubeconfig, namespaceFile string) (string, error) {
	if override != "" {
		return override, nil
	}
	if kubeconfig != "" {
		return kubeconfigNamespace(kubeconfig)
	}
	return ReadNamespace(namespaceFile)
}

func kubeconfigNamespace(kubeconfig string) (string, error) {
	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
		&clientcmd.ConfigOverrides{},
	)
	ns, _, err := cfg.Namespace()
	if err != nil {
		return "", fmt.Errorf("failed to read namespace from kubeconfig: %w", err)
	}
	return ns, nil
}

// RESTConfig builds the API client configuration. An empty kubeconfig means
// in-cluster credentials.
func RESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			if errors.Is(err, rest.ErrNotInCluster) {
				return nil, fmt.Errorf("not running in a cluster, use --kubeconfig: %w", err)
			}
			return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg, nil
}

// NewSecretWatcher returns a Watcher for the secrets of one namespace
func NewSecretWatcher(client dynamic.Interface, namespace string) Watcher {
	return client.Resource(SecretsResource).Namespace(namespace)
}

// NewClient creates a dynamic client from cfg
func NewClient(cfg *rest.Config) (dynamic.Interface, error) {
	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}
