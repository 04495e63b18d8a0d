package layers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/example/astrodeploy/internal/varsfile"
)

// AWSInfra is the VPC, EKS cluster and bastion host on AWS.
type AWSInfra struct {
	module
	preflight func(ctx context.Context, region string) error
}

// NewAWSInfra returns the constructor registered under "aws".
func NewAWSInfra(runner Runner) InfraConstructor {
	return func(p Paths) InfraLayer {
		return &AWSInfra{
			module:    module{name: "infrastructure/aws", target: TargetAWS, paths: p, runner: runner},
			preflight: checkAWSCredentials,
		}
	}
}

// Apply checks that AWS credentials resolve before running terraform.
func (a *AWSInfra) Apply(ctx context.Context, env map[string]string) error {
	if a.preflight != nil {
		if err := a.preflight(ctx, a.region()); err != nil {
			return err
		}
	}
	return a.module.Apply(ctx, env)
}

// ProxyCommand prefers the bastion_proxy_command output and otherwise builds an ssh
// port forward to the proxy on the bastion.
func (a *AWSInfra) ProxyCommand(ctx context.Context) (string, error) {
	outs, err := a.outputs(ctx)
	if err != nil {
		return "", err
	}
	if cmd, ok := outs.String("bastion_proxy_command"); ok {
		return cmd, nil
	}
	host, ok := outs.String("bastion_public_ip", "bastion_ip", "bastion_dns")
	if !ok {
		return "", &MissingOutputError{Layer: a.name, Missing: []string{"bastion_public_ip"}}
	}
	user, ok := outs.String("bastion_user")
	if !ok {
		user = "ec2-user"
	}
	parts := []string{"ssh", "-N", "-L", "1234:127.0.0.1:8888", "-o", "StrictHostKeyChecking=no"}
	if key, ok := outs.String("bastion_ssh_key_path", "bastion_key"); ok {
		parts = append(parts, "-i", ShellQuote(key))
	}
	parts = append(parts, ShellQuote(user+"@"+host))
	return strings.Join(parts, " "), nil
}

func (a *AWSInfra) region() string {
	f, err := varsfile.Load(a.paths.VarsFile)
	if err != nil {
		return ""
	}
	region, _ := f.FirstString("aws_region", "region")
	return region
}

func checkAWSCredentials(ctx context.Context, region string) error {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Credentials == nil {
		return errors.New("aws credentials: no credential provider configured")
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("aws credentials: %w", err)
	}
	return nil
}
