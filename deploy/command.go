package deploy

import (
	"kairosdeploy/config"
	"kairosdeploy/kairos"
	"kairosdeploy/packer"
	"kairosdeploy/terraform"
)

// Command is the closed set of top-level operations. Each command maps to a
// fixed ordered subset of pipeline stages.
type Command int

const (
	FullDeploy Command = iota
	TemplateOnly
	VMOnly
	KairosOnly
	Cleanup
	Status
)

func (c Command) String() string {
	switch c {
	case FullDeploy:
		return "full-deploy"
	case TemplateOnly:
		return "template-only"
	case VMOnly:
		return "vm-only"
	case KairosOnly:
		return "kairos-only"
	case Cleanup:
		return "cleanup"
	case Status:
		return "status"
	default:
		return "unknown"
	}
}

// Tools returns the external binaries the command needs on PATH. Stages
// disabled by skip flags drop their tool from the requirement list.
func (c Command) Tools(cfg config.Config) []string {
	switch c {
	case FullDeploy:
		var tools []string
		if !cfg.SkipTemplate {
			tools = append(tools, packer.Binary)
		}
		return append(tools, terraform.Binary, kairos.Binary)
	case TemplateOnly:
		return []string{packer.Binary}
	case VMOnly:
		return []string{terraform.Binary}
	case KairosOnly:
		return []string{kairos.Binary}
	case Cleanup:
		return []string{terraform.Binary}
	case Status:
		return nil
	default:
		return nil
	}
}

// UsesRegistry reports whether the command contacts the release registry, so
// the up-front authentication probe runs only when a fetch will follow.
func (c Command) UsesRegistry(cfg config.Config) bool {
	switch c {
	case FullDeploy, KairosOnly:
		return !cfg.SkipFetch
	default:
		return false
	}
}

// RequiresCredentials reports whether configuration validation must insist on
// registry and node settings. Only the status command runs without them.
func (c Command) RequiresCredentials() bool {
	return c != Status
}
