package enum

type IntegrationProvider string

const (
	ProviderGmail   IntegrationProvider = "gmail"
	ProviderOutlook IntegrationProvider = "outlook"
	ProviderGithub  IntegrationProvider = "github"
	ProviderNotion  IntegrationProvider = "notion"
	ProviderSlack   IntegrationProvider = "slack"
	ProviderFigma   IntegrationProvider = "figma"
)

func (p IntegrationProvider) String() string {
	return string(p)
}

func DecodeIntegrationProvider(s string) IntegrationProvider {
	switch s {
	case "gmail":
		return ProviderGmail
	case "outlook":
		return ProviderOutlook
	case "github":
		return ProviderGithub
	case "notion":
		return ProviderNotion
	case "slack":
		return ProviderSlack
	case "figma":
		return ProviderFigma
	default:
		return ""
	}
}
