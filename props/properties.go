// Package props loads local fixture inventory from YAML.
package props

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ad-selection-engine/internal/model"
	"ad-selection-engine/internal/storage"
)

const defaultLifetime = 30 * 24 * time.Hour

// Fixtures is the document shape of a fixtures file:
//
//	custom_audiences:
//	  - owner: com.example.app
//	    buyer: buyer.example
//	    name: shoes
//	    bidding_logic_uri: https://buyer.example/bid
//	    ads:
//	      - render_uri: https://buyer.example/ad/1
//	        metadata: '{"bid": 2}'
//	overrides: []
//	installed_apps:
//	  - buyer: buyer.example
//	    package: com.buyer.app
type Fixtures struct {
	CustomAudiences []FixtureAudience `yaml:"custom_audiences"`
	Overrides       []model.Override  `yaml:"overrides"`
	InstalledApps   []InstalledApp    `yaml:"installed_apps"`
}

// FixtureAudience is a custom audience plus its optional daily update uri.
type FixtureAudience struct {
	model.CustomAudience `yaml:",inline"`
	DailyUpdateURI       string `yaml:"daily_update_uri"`
}

type InstalledApp struct {
	Buyer   string `yaml:"buyer"`
	Package string `yaml:"package"`
}

// AppRegistry records installed apps for app install filtering.
type AppRegistry interface {
	SetInstalled(buyer, pkg string)
}

func LoadFixtures(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("open fixtures %s: %w", path, err)
	}
	defer f.Close()

	var fx Fixtures
	if err := yaml.NewDecoder(f).Decode(&fx); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures %s: %w", path, err)
	}
	for i, ca := range fx.CustomAudiences {
		if ca.Owner == "" || ca.Buyer == "" || ca.Name == "" {
			return Fixtures{}, fmt.Errorf("fixtures %s: custom audience %d needs owner, buyer and name", path, i)
		}
	}
	return fx, nil
}

// Apply writes the fixtures. Missing timestamps are filled relative to now so
// fixture audiences are eligible right away.
func (fx Fixtures) Apply(ctx context.Context, now time.Time, inv storage.Inventory, ov storage.Overrides, apps AppRegistry) error {
	for _, fa := range fx.CustomAudiences {
		ca := fa.CustomAudience
		if ca.CreationTime.IsZero() {
			ca.CreationTime = now
		}
		if ca.ActivationTime.IsZero() {
			ca.ActivationTime = now
		}
		if ca.ExpirationTime.IsZero() {
			ca.ExpirationTime = ca.ActivationTime.Add(defaultLifetime)
		}
		if ca.LastUpdatedTime.IsZero() {
			ca.LastUpdatedTime = now
		}
		if err := inv.Upsert(ctx, ca, fa.DailyUpdateURI); err != nil {
			return fmt.Errorf("upsert fixture %s/%s: %w", ca.Buyer, ca.Name, err)
		}
	}
	if ov != nil {
		for _, o := range fx.Overrides {
			if err := ov.PutOverride(ctx, o); err != nil {
				return fmt.Errorf("put override %s/%s: %w", o.Buyer, o.Name, err)
			}
		}
	}
	if apps != nil {
		for _, a := range fx.InstalledApps {
			apps.SetInstalled(a.Buyer, a.Package)
		}
	}
	return nil
}
