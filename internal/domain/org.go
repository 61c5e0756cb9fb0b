package domain

// OrganizationRef identifies one business listing on the source site.
// Derived once per sync run from the configured URL; immutable thereafter.
type OrganizationRef struct {
	OrgID        string // numeric string, >= 10 digits
	CanonicalURL string // https://<domain>/maps/org/<slug>/<orgId>/reviews/
	Domain       string // country mirror host, e.g. yandex.ru or yandex.com
}
