// Package envcatalog lists the environment variables astrodeploy reads or sets.
package envcatalog

type VarInfo struct {
	Category    string
	Name        string
	Description string
	// Dynamic entries are name patterns rather than a single variable.
	Dynamic bool
	// Exported entries are set by astrodeploy for the proxied layers, not read by it.
	Exported bool
}

func Catalog() []VarInfo {
	return []VarInfo{
		{
			Category:    "Config",
			Name:        "ASTRODEPLOY_CONFIG",
			Description: "Path to the astrodeploy config file (default .astrodeploy.yaml in the git root, then in the home directory).",
		},
		{
			Category:    "Config",
			Name:        "ASTRODEPLOY_<FLAG>",
			Dynamic:     true,
			Description: "Set any astrodeploy flag via environment (hyphens become underscores). Example: ASTRODEPLOY_TERRAFORM_BIN=/usr/local/bin/terraform.",
		},
		{
			Category:    "Output",
			Name:        "NO_COLOR",
			Description: "Disable ANSI color output (any non-empty value).",
		},
		{
			Category:    "Terraform",
			Name:        "TF_LOG",
			Description: "Terraform log level, passed through to every terraform invocation.",
		},
		{
			Category:    "Terraform",
			Name:        "TF_CLI_ARGS",
			Description: "Extra arguments terraform appends to every command.",
		},
		{
			Category:    "Terraform",
			Name:        "TF_PLUGIN_CACHE_DIR",
			Description: "Provider plugin cache shared by the layer applies.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_PROFILE",
			Description: "Shared config profile used for the credential check and by terraform on the aws platform.",
		},
		{
			Category:    "AWS",
			Name:        "AWS_REGION",
			Description: "Region for the credential check when the vars file sets none.",
		},
		{
			Category:    "Google",
			Name:        "GOOGLE_APPLICATION_CREDENTIALS",
			Description: "Service account key used by terraform on the google platform.",
		},
		{
			Category:    "Proxy",
			Name:        "http_proxy",
			Exported:    true,
			Description: "Set to the bastion proxy endpoint for the system components and application layers.",
		},
		{
			Category:    "Proxy",
			Name:        "https_proxy",
			Exported:    true,
			Description: "Set to the bastion proxy endpoint for the system components and application layers.",
		},
		{
			Category:    "Proxy",
			Name:        "HTTP_PROXY",
			Exported:    true,
			Description: "Set to the bastion proxy endpoint for the system components and application layers.",
		},
		{
			Category:    "Proxy",
			Name:        "HTTPS_PROXY",
			Exported:    true,
			Description: "Set to the bastion proxy endpoint for the system components and application layers.",
		},
		{
			Category:    "Proxy",
			Name:        "ASTRODEPLOY_PROCESS_TREE",
			Exported:    true,
			Description: "Unique marker set for the tunnel command; its processes are found by it at teardown.",
		},
		{
			Category:    "Proxy",
			Name:        "HELM_HOME",
			Exported:    true,
			Description: "Set to <project root>/.helm for the proxied layers.",
		},
		{
			Category:    "Proxy",
			Name:        "KUBECONFIG",
			Exported:    true,
			Description: "Set to <project root>/terraform/kubeconfig for the proxied layers.",
		},
	}
}
