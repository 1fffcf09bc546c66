package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/georgepadayatti/trustval/internal/testpki"
	"github.com/georgepadayatti/trustval/source/online"
)

type pki struct {
	dir    string
	root   string
	other  string
	signer string
	crls   []string
}

func writePKI(t *testing.T) *pki {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()

	root := testpki.Root(t, "CLI Root")
	other := testpki.Root(t, "CLI Other Root")
	inter := testpki.Intermediate(t, root, "CLI Intermediate")
	leaf := testpki.Leaf(t, inter, "CLI Signer")

	p := &pki{
		dir:    dir,
		root:   writePEM(t, dir, "root.pem", root),
		other:  writePEM(t, dir, "other.pem", other),
		signer: writePEM(t, dir, "signer.pem", leaf, inter),
	}
	for name, issuer := range map[string]*testpki.Entity{"inter.crl": inter, "root.crl": root} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, issuer.CRL(t, now.Add(-time.Hour), now.Add(24*time.Hour)), 0644); err != nil {
			t.Fatalf("Failed to write CRL: %v", err)
		}
		p.crls = append(p.crls, path)
	}
	return p
}

func writePEM(t *testing.T, dir, name string, entities ...*testpki.Entity) string {
	t.Helper()
	var data []byte
	for _, e := range entities {
		data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: e.Cert.Raw})...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// execute runs the command tree and returns stdout and the exit code passed
// to osExit, or -1 when it was not called.
func execute(t *testing.T, args ...string) (string, int, error) {
	t.Helper()
	code := -1
	oldExit := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = oldExit })

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), code, err
}

func TestValidatePassed(t *testing.T) {
	p := writePKI(t)

	out, code, err := execute(t, "validate",
		"--trust-anchors", p.root,
		"--crl", p.crls[0], "--crl", p.crls[1],
		"--verbose", p.signer)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if code != -1 {
		t.Errorf("Expected no exit, got code %d", code)
	}
	if !strings.Contains(out, "Status: PASSED") {
		t.Errorf("Expected PASSED status, got:\n%s", out)
	}
	if !strings.Contains(out, "Checks:") || !strings.Contains(out, "[OK]") {
		t.Errorf("Expected verbose checks, got:\n%s", out)
	}
	if strings.Count(out, "Revocation ") != 2 {
		t.Errorf("Expected 2 revocation lines, got:\n%s", out)
	}
}

func TestValidateJSON(t *testing.T) {
	p := writePKI(t)

	out, code, err := execute(t, "validate", "--json",
		"--trust-anchors", p.other,
		"--crl", strings.Join(p.crls, ","),
		p.signer)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if code != 1 {
		t.Errorf("Expected exit code 1 for an untrusted chain, got %d", code)
	}

	var reports []struct {
		SignatureID string `json:"signature_id"`
		Result      struct {
			Conclusion struct {
				Indication    string `json:"indication"`
				SubIndication string `json:"sub_indication"`
			} `json:"conclusion"`
		} `json:"result"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	c := reports[0].Result.Conclusion
	if c.Indication != "INDETERMINATE" || c.SubIndication != "NO_CERTIFICATE_CHAIN_FOUND" {
		t.Errorf("Expected INDETERMINATE/NO_CERTIFICATE_CHAIN_FOUND, got %s/%s", c.Indication, c.SubIndication)
	}
	if reports[0].SignatureID == "" || len(reports[0].Messages) == 0 {
		t.Errorf("Expected signature id and messages, got %+v", reports[0])
	}
}

func TestValidateErrors(t *testing.T) {
	p := writePKI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no files", []string{"validate", "--trust-anchors", p.root}},
		{"no anchors", []string{"validate", p.signer}},
		{"missing anchor file", []string{"validate", "--trust-anchors", filepath.Join(p.dir, "missing.pem"), p.signer}},
		{"missing signer", []string{"validate", "--trust-anchors", p.root, filepath.Join(p.dir, "missing.pem")}},
		{"bad time", []string{"validate", "--trust-anchors", p.root, "--at", "noon", p.signer}},
		{"bad log level", []string{"--log-level", "loud", "version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := execute(t, tt.args...); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPolicyCommand(t *testing.T) {
	out, _, err := execute(t, "policy")
	if err != nil {
		t.Fatalf("policy failed: %v", err)
	}
	if !strings.Contains(out, "name: default") {
		t.Errorf("Expected the built-in policy, got:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("name: custom\n"), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	out, _, err = execute(t, "policy", "--file", path)
	if err != nil {
		t.Fatalf("policy failed: %v", err)
	}
	if !strings.Contains(out, "name: custom") {
		t.Errorf("Expected the custom policy, got:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "trustval version "+Version) {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestOutputMetrics(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := online.NewMetrics(reg)
	m.Requests.WithLabelValues("crl", "ok").Add(2)

	if err := outputMetrics(&buf, reg); err != nil {
		t.Fatalf("outputMetrics failed: %v", err)
	}
	if !strings.Contains(buf.String(), `trustval_fetch_requests_total{kind="crl",result="ok"} 2`) {
		t.Errorf("Unexpected metrics output:\n%s", buf.String())
	}
}
