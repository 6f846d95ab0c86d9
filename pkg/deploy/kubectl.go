package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

const (
	// deployedAnnotation marks a namespace as created by an active
	// deployment so a second Deploy can detect the collision.
	deployedAnnotation = "arena.devsec/deployed"

	kubectlCallTimeout = 60 * time.Second
)

// KubectlDeployer provisions one challenge at a time inside a dedicated
// namespace. Deploy recreates the namespace from scratch and applies the
// level's manifest; Cleanup deletes the namespace and everything in it.
type KubectlDeployer struct {
	runner    Runner
	namespace string
	manifest  string
	logger    zerolog.Logger
}

// KubectlOption configures a KubectlDeployer.
type KubectlOption func(*KubectlDeployer)

// WithKubectlRunner substitutes the command runner. Used by tests.
func WithKubectlRunner(r Runner) KubectlOption {
	return func(d *KubectlDeployer) { d.runner = r }
}

// WithKubectlManifest overrides the manifest file name applied per level.
func WithKubectlManifest(name string) KubectlOption {
	return func(d *KubectlDeployer) { d.manifest = name }
}

// NewKubectlDeployer creates a deployer bound to the given namespace.
func NewKubectlDeployer(namespace string, logger zerolog.Logger, opts ...KubectlOption) *KubectlDeployer {
	d := &KubectlDeployer{
		runner:    &ExecRunner{},
		namespace: namespace,
		manifest:  "broken.yaml",
		logger:    logger.With().Str("component", "deploy.kubectl").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HealthCheck verifies that kubectl exists and a cluster answers.
func (d *KubectlDeployer) HealthCheck(ctx context.Context) (bool, string) {
	if _, err := runWithTimeout(ctx, d.runner, 10*time.Second, "kubectl", "version", "--client"); err != nil {
		return false, "kubectl not found on PATH"
	}
	res, err := runWithTimeout(ctx, d.runner, 15*time.Second, "kubectl", "cluster-info")
	if err != nil || res.ExitCode != 0 {
		return false, "no reachable Kubernetes cluster"
	}
	return true, "cluster reachable"
}

// Deploy recreates the challenge namespace and applies the level manifest.
// A namespace carrying the deployed annotation means another challenge is
// still active, which is reported as an ALREADY_DEPLOYED conflict.
func (d *KubectlDeployer) Deploy(ctx context.Context, levelPath string) error {
	active, err := d.activeDeployment(ctx)
	if err != nil {
		return err
	}
	if active {
		return arena.NewConflictError("a challenge is already deployed in this namespace", nil).
			WithCode(arena.ErrCodeAlreadyDeployed).
			WithOperation("deploy")
	}

	// Recreate from scratch so leftovers from a crashed run cannot leak
	// into the new challenge.
	if _, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "delete", "namespace", d.namespace, "--ignore-not-found", "--wait=true"); err != nil {
		return err
	}

	res, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "create", "namespace", d.namespace)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classifyKubectl("create namespace", res)
	}

	if _, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "annotate", "namespace", d.namespace,
		fmt.Sprintf("%s=true", deployedAnnotation)); err != nil {
		return err
	}

	manifest := filepath.Join(levelPath, d.manifest)
	res, err = runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "apply", "-n", d.namespace, "-f", manifest)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		// Apply warnings are expected for intentionally broken manifests;
		// only a hard nonzero exit fails the deploy.
		return classifyKubectl("apply", res)
	}

	d.logger.Info().Str("namespace", d.namespace).Str("level", levelPath).Msg("challenge deployed")
	return nil
}

// Cleanup deletes the challenge namespace. Deleting a namespace that does
// not exist is a no-op success.
func (d *KubectlDeployer) Cleanup(ctx context.Context, levelPath string) error {
	res, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "delete", "namespace", d.namespace, "--ignore-not-found", "--wait=true")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classifyKubectl("delete namespace", res)
	}
	d.logger.Info().Str("namespace", d.namespace).Msg("challenge cleaned up")
	return nil
}

// Status reports what is currently running inside the namespace.
func (d *KubectlDeployer) Status(ctx context.Context, levelPath string) (*arena.BackendStatus, error) {
	active, err := d.activeDeployment(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		return &arena.BackendStatus{Ready: false, Message: "nothing deployed"}, nil
	}

	res, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "get", "pods", "-n", d.namespace, "--no-headers")
	if err != nil {
		return nil, err
	}
	status := &arena.BackendStatus{
		Ready:   true,
		Message: fmt.Sprintf("namespace %s active", d.namespace),
		Details: map[string]any{},
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 {
			status.Details[fields[0]] = fields[2]
		}
	}
	return status, nil
}

// activeDeployment checks the annotation left by Deploy.
func (d *KubectlDeployer) activeDeployment(ctx context.Context) (bool, error) {
	res, err := runWithTimeout(ctx, d.runner, kubectlCallTimeout,
		"kubectl", "get", "namespace", d.namespace,
		"-o", fmt.Sprintf("jsonpath={.metadata.annotations['%s']}", deployedAnnotation))
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		// Namespace does not exist.
		return false, nil
	}
	return strings.TrimSpace(res.Stdout) == "true", nil
}

// classifyKubectl turns a nonzero kubectl exit into a classified error.
func classifyKubectl(op string, res *Result) error {
	msg := fmt.Sprintf("kubectl %s failed: %s", op, res.Stderr)
	if transientStderr(res.Stderr) {
		return arena.NewTransientError(msg, nil).
			WithCode(arena.ErrCodeDeployFailed).
			WithOperation(op)
	}
	return arena.NewPermanentError(msg, nil).
		WithCode(arena.ErrCodeDeployFailed).
		WithOperation(op)
}
