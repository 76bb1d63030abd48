package catalog

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/broker"
)

// AppStore names one autostart-script index a BackgroundJobs refresh walks,
// grounded in original_source/server/app/models.py's AppStore.
type AppStore struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadAppStores reads the app_stores.yml list. A missing file yields an
// empty list rather than an error.
func LoadAppStores(path string) ([]AppStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, broker.Internal("read app stores", err)
	}
	var stores []AppStore
	if err := yaml.Unmarshal(raw, &stores); err != nil {
		return nil, broker.Internal("parse app stores", err)
	}
	return stores, nil
}
