package layers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type call struct {
	dir  string
	args []string
	env  map[string]string
}

type fakeRunner struct {
	calls   []call
	outputs string
	runErr  error
	outErr  error
}

func (f *fakeRunner) Run(ctx context.Context, dir string, args []string, env map[string]string) error {
	f.calls = append(f.calls, call{dir: dir, args: append([]string(nil), args...), env: env})
	return f.runErr
}

func (f *fakeRunner) Output(ctx context.Context, dir string, args []string) ([]byte, error) {
	f.calls = append(f.calls, call{dir: dir, args: append([]string(nil), args...)})
	return []byte(f.outputs), f.outErr
}

func testPaths(t *testing.T, vars string) Paths {
	t.Helper()
	dir := t.TempDir()
	varsPath := filepath.Join(dir, "prod.tfvars")
	if err := os.WriteFile(varsPath, []byte(vars), 0o600); err != nil {
		t.Fatalf("write vars: %v", err)
	}
	return Paths{VarsFile: varsPath, StateFile: filepath.Join(dir, "terraform.tfstate"), WorkDir: filepath.Join(dir, "terraform")}
}

func TestRegistryLabels(t *testing.T) {
	reg := DefaultRegistry(&fakeRunner{})
	if got := strings.Join(reg.Labels(), ","); got != "aws,google" {
		t.Fatalf("unexpected labels %q", got)
	}
}

func TestModuleApplyRunsInitThenTargetedApply(t *testing.T) {
	runner := &fakeRunner{}
	p := testPaths(t, "")
	layer := NewSystemComponents(runner)(p)
	env := map[string]string{"HTTPS_PROXY": "http://127.0.0.1:1234"}
	if err := layer.Apply(context.Background(), env); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected init+apply, got %d calls", len(runner.calls))
	}
	if got := strings.Join(runner.calls[0].args, " "); got != "init -input=false" {
		t.Fatalf("unexpected init args %q", got)
	}
	want := "apply -input=false -auto-approve -state=" + p.StateFile + " -var-file=" + p.VarsFile + " -target=module.system_components"
	if got := strings.Join(runner.calls[1].args, " "); got != want {
		t.Fatalf("unexpected apply args\nwant %q\ngot  %q", want, got)
	}
	for _, c := range runner.calls {
		if c.dir != p.WorkDir {
			t.Fatalf("expected work dir %q, got %q", p.WorkDir, c.dir)
		}
		if c.env["HTTPS_PROXY"] != "http://127.0.0.1:1234" {
			t.Fatalf("environment not forwarded: %v", c.env)
		}
	}
}

func TestModuleApplyStopsWhenInitFails(t *testing.T) {
	runner := &fakeRunner{runErr: errors.New("init failed")}
	if err := NewApplication(runner)(testPaths(t, "")).Apply(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected apply to be skipped, got %d calls", len(runner.calls))
	}
}

func TestLayerTargets(t *testing.T) {
	runner := &fakeRunner{}
	p := testPaths(t, "")
	layers := map[string]Layer{
		"module.gcp":        NewGoogleInfra(runner)(p),
		"module.astronomer": NewApplication(runner)(p),
	}
	for target, layer := range layers {
		runner.calls = nil
		if err := layer.Apply(context.Background(), nil); err != nil {
			t.Fatalf("apply %s: %v", layer.Name(), err)
		}
		last := runner.calls[len(runner.calls)-1].args
		if last[len(last)-1] != "-target="+target {
			t.Fatalf("%s: expected target %s, got %v", layer.Name(), target, last)
		}
	}
}

func TestGoogleProxyCommandPrefersOutput(t *testing.T) {
	runner := &fakeRunner{outputs: `{"bastion_proxy_command":{"sensitive":false,"type":"string","value":"gcloud compute ssh bastion -- -L 1234:127.0.0.1:8888"}}`}
	p := testPaths(t, "")
	cmd, err := NewGoogleInfra(runner)(p).ProxyCommand(context.Background())
	if err != nil {
		t.Fatalf("proxy command: %v", err)
	}
	if cmd != "gcloud compute ssh bastion -- -L 1234:127.0.0.1:8888" {
		t.Fatalf("unexpected command %q", cmd)
	}
	if got := strings.Join(runner.calls[0].args, " "); got != "output -json -state="+p.StateFile {
		t.Fatalf("unexpected output args %q", got)
	}
}

func TestGoogleProxyCommandFallsBackToVarsProject(t *testing.T) {
	runner := &fakeRunner{outputs: `{"bastion_name":{"value":"astro-bastion"},"bastion_zone":{"value":"us-east4-a"}}`}
	cmd, err := NewGoogleInfra(runner)(testPaths(t, "project = \"astro-prod\"\n")).ProxyCommand(context.Background())
	if err != nil {
		t.Fatalf("proxy command: %v", err)
	}
	want := "gcloud beta compute ssh --zone us-east4-a astro-bastion --project astro-prod --tunnel-through-iap --ssh-flag='-L 1234:127.0.0.1:8888 -C -N'"
	if cmd != want {
		t.Fatalf("unexpected command\nwant %q\ngot  %q", want, cmd)
	}
}

func TestGoogleProxyCommandReportsMissingOutputs(t *testing.T) {
	runner := &fakeRunner{outputs: `{}`}
	_, err := NewGoogleInfra(runner)(testPaths(t, "")).ProxyCommand(context.Background())
	var missing *MissingOutputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingOutputError, got %v", err)
	}
	if !strings.Contains(err.Error(), "bastion_name, bastion_zone, project") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAWSProxyCommandFallback(t *testing.T) {
	runner := &fakeRunner{outputs: `{"bastion_public_ip":{"value":"3.3.3.3"},"bastion_ssh_key_path":{"value":"/keys/astro key.pem"}}`}
	cmd, err := NewAWSInfra(runner)(testPaths(t, "")).ProxyCommand(context.Background())
	if err != nil {
		t.Fatalf("proxy command: %v", err)
	}
	want := "ssh -N -L 1234:127.0.0.1:8888 -o StrictHostKeyChecking=no -i '/keys/astro key.pem' ec2-user@3.3.3.3"
	if cmd != want {
		t.Fatalf("unexpected command\nwant %q\ngot  %q", want, cmd)
	}
}

func TestAWSProxyCommandOutputError(t *testing.T) {
	runner := &fakeRunner{outErr: errors.New("no state")}
	if _, err := NewAWSInfra(runner)(testPaths(t, "")).ProxyCommand(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAWSApplyRunsPreflightWithVarsRegion(t *testing.T) {
	runner := &fakeRunner{}
	layer := NewAWSInfra(runner)(testPaths(t, "aws_region = \"eu-west-1\"\n")).(*AWSInfra)
	var gotRegion string
	layer.preflight = func(ctx context.Context, region string) error {
		gotRegion = region
		return nil
	}
	if err := layer.Apply(context.Background(), nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if gotRegion != "eu-west-1" {
		t.Fatalf("expected region from vars file, got %q", gotRegion)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected terraform to run after preflight")
	}
}

func TestAWSApplyPreflightFailureSkipsTerraform(t *testing.T) {
	runner := &fakeRunner{}
	layer := NewAWSInfra(runner)(testPaths(t, "")).(*AWSInfra)
	layer.preflight = func(ctx context.Context, region string) error { return errors.New("no credentials") }
	if err := layer.Apply(context.Background(), nil); err == nil {
		t.Fatalf("expected preflight error")
	}
	if len(runner.calls) != 0 {
		t.Fatalf("terraform must not run, got %v", runner.calls)
	}
}

func TestOutputString(t *testing.T) {
	outs := Outputs{
		"s": {Value: []byte(`"x"`)},
		"n": {Value: []byte(`8888`)},
		"o": {Value: []byte(`{"a":1}`)},
		"e": {Value: []byte(`""`)},
	}
	if v, ok := outs.String("missing", "e", "s"); !ok || v != "x" {
		t.Fatalf("String = %q, %v", v, ok)
	}
	if v, ok := outs.String("n"); !ok || v != "8888" {
		t.Fatalf("number = %q, %v", v, ok)
	}
	if _, ok := outs.String("o"); ok {
		t.Fatalf("object should not be a string")
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":               "''",
		"us-east4-a":     "us-east4-a",
		"a b":            "'a b'",
		"it's":           `'it'"'"'s'`,
		"ec2-user@1.2.3": "ec2-user@1.2.3",
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Fatalf("ShellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs(`-parallelism=4 -var 'tag=a b'`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Join(args, "|") != "-parallelism=4|-var|tag=a b" {
		t.Fatalf("unexpected args %q", args)
	}
	if args, err := ParseArgs("  "); err != nil || args != nil {
		t.Fatalf("expected nil for blank input, got %v %v", args, err)
	}
	if _, err := ParseArgs(`-var 'unterminated`); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTerraformRunPassesEnvAndApplyArgs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	record := filepath.Join(dir, "record")
	stub := filepath.Join(dir, "terraform")
	script := "#!/bin/sh\necho \"$@\" >> " + record + "\necho \"proxy=$HTTPS_PROXY\" >> " + record + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	tf := &Terraform{Binary: stub, ApplyArgs: []string{"-parallelism=2"}, Stdout: &strings.Builder{}, Stderr: &strings.Builder{}}
	env := map[string]string{"HTTPS_PROXY": "http://127.0.0.1:1234"}
	if err := tf.Run(context.Background(), dir, []string{"init", "-input=false"}, env); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tf.Run(context.Background(), dir, []string{"apply", "-auto-approve"}, env); err != nil {
		t.Fatalf("apply: %v", err)
	}
	data, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	want := "init -input=false\nproxy=http://127.0.0.1:1234\napply -auto-approve -parallelism=2\nproxy=http://127.0.0.1:1234\n"
	if string(data) != want {
		t.Fatalf("unexpected record\nwant %q\ngot  %q", want, data)
	}
}

func TestTerraformOutputIncludesStderrOnFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "terraform")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'state not found' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	tf := &Terraform{Binary: stub}
	_, err := tf.Output(context.Background(), dir, []string{"output", "-json"})
	if err == nil || !strings.Contains(err.Error(), "state not found") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestTerraformRunHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tf := &Terraform{Binary: "/nonexistent/terraform"}
	if err := tf.Run(ctx, t.TempDir(), []string{"apply"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
