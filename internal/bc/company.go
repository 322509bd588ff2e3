package bc

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Company identifies a BC company inside a resolved environment.
type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type resolveState struct {
	mu          sync.Mutex
	done        bool
	environment string
	company     Company
}

// environmentCandidates is the fallback order when the configured environment
// does not answer a valid companies listing.
var environmentCandidates = []string{"production", "Production", "sandbox"}

// ResolveCompany tries the configured environment, then the fallback list,
// and returns the first company that answers a valid companies listing.
// The result is memoized for the process lifetime.
func (c *Client) ResolveCompany(ctx context.Context) (Company, error) {
	c.companyOnce.mu.Lock()
	defer c.companyOnce.mu.Unlock()
	if c.companyOnce.done {
		return c.companyOnce.company, nil
	}

	var lastErr error
	for _, env := range c.environments() {
		companies, err := c.listCompanies(ctx, env)
		if err != nil {
			lastErr = err
			continue
		}
		if len(companies) == 0 {
			lastErr = fmt.Errorf("bc: environment %q has no companies", env)
			continue
		}
		company := pickCompany(companies, c.cfg.Company)
		c.companyOnce.done = true
		c.companyOnce.environment = env
		c.companyOnce.company = company
		return company, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no reachable environment", ErrExternalService)
	}
	return Company{}, lastErr
}

// Environment returns the environment the company was resolved in. It is only
// meaningful after a successful ResolveCompany.
func (c *Client) Environment() string {
	c.companyOnce.mu.Lock()
	defer c.companyOnce.mu.Unlock()
	return c.companyOnce.environment
}

func (c *Client) environments() []string {
	envs := make([]string, 0, len(environmentCandidates)+1)
	seen := map[string]bool{}
	for _, env := range append([]string{c.cfg.Environment}, environmentCandidates...) {
		if env == "" || seen[env] {
			continue
		}
		seen[env] = true
		envs = append(envs, env)
	}
	return envs
}

func (c *Client) listCompanies(ctx context.Context, environment string) ([]Company, error) {
	url := fmt.Sprintf("%s/%s/%s/api/v2.0/companies", c.cfg.BaseURL, c.cfg.TenantID, environment)
	var resp struct {
		Value []Company `json:"value"`
	}
	if err := c.get(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func pickCompany(companies []Company, wanted string) Company {
	if wanted != "" {
		for _, company := range companies {
			if strings.EqualFold(company.Name, wanted) || strings.EqualFold(company.DisplayName, wanted) {
				return company
			}
		}
	}
	return companies[0]
}

// companyURL builds the base URL for a resource collection of the resolved company.
func (c *Client) companyURL(company Company, resource string) string {
	return fmt.Sprintf("%s/%s/%s/api/v2.0/companies(%s)/%s",
		c.cfg.BaseURL, c.cfg.TenantID, c.Environment(), company.ID, resource)
}
