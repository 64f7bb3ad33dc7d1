package watch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestReadNamespace(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", "acme-dns", "acme-dns", false},
		{"trailing newline", "acme-dns\n", "acme-dns", false},
		{"empty", "", "", true},
		{"whitespace only", " \n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadNamespace(writeFile(t, "namespace", tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadNamespace() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadNamespace() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadNamespaceMissingFile(t *testing.T) {
	if _, err := ReadNamespace(filepath.Join(t.TempDir(), "namespace")); err == nil {
		t.Error("ReadNamespace() error = nil, want error for missing file")
	}
}

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: dev
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: dev
  context:
    cluster: dev
    user: dev
    namespace: acme-system
current-context: dev
users:
- name: dev
  user:
    token: not-a-real-token
`

func TestResolveNamespace(t *testing.T) {
	nsFile := writeFile(t, "namespace", "from-file\n")
	kubeconfig := writeFile(t, "kubeconfig", testKubeconfig)

	tests := []struct {
		name       string
		override   string
		kubeconfig string
		want       string
	}{
		{"override wins", "explicit", kubeconfig, "explicit"},
		{"kubeconfig context", "", kubeconfig, "acme-system"},
		{"service account file", "", "", "from-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveNamespace(tt.override, tt.kubeconfig, nsFile)
			if err != nil {
				t.Fatalf("ResolveNamespace() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveNamespace() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRESTConfigFromKubeconfig(t *testing.T) {
	cfg, err := RESTConfig(writeFile(t, "kubeconfig", testKubeconfig))
	if err != nil {
		t.Fatalf("RESTConfig() error = %v", err)
	}
	if cfg.Host != "https://127.0.0.1:6443" {
		t.Errorf("Host = %s, want https://127.0.0.1:6443", cfg.Host)
	}

	if _, err := NewClient(cfg); err != nil {
		t.Errorf("NewClient() error = %v", err)
	}
}

func TestRESTConfigOutsideCluster(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")

	if _, err := RESTConfig(""); err == nil {
		t.Error("RESTConfig() error = nil, want error outside a cluster")
	}
}
