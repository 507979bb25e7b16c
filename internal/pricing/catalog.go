package pricing

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrUnknownRace = errors.New("unknown race category")

type Race struct {
	Key      string `yaml:"key" json:"raceKey"`
	Title    string `yaml:"title" json:"title"`
	Distance string `yaml:"distance" json:"distance"`
	Price    int64  `yaml:"price" json:"price"`
	MinAge   int    `yaml:"minAge" json:"minAge"`
}

// Catalog is the static race price table. It is read-only after construction.
type Catalog struct {
	races map[string]Race
}

func DefaultCatalog() *Catalog {
	c, _ := NewCatalog([]Race{
		{Key: "2KM", Title: "Fun Run", Distance: "2 KM", Price: 499, MinAge: 9},
		{Key: "5KM", Title: "Fitness Run", Distance: "5 KM", Price: 699, MinAge: 9},
		{Key: "10KM", Title: "Endurance Run", Distance: "10 KM", Price: 1199, MinAge: 9},
	})
	return c
}

func NewCatalog(races []Race) (*Catalog, error) {
	c := &Catalog{races: make(map[string]Race, len(races))}
	for _, r := range races {
		if r.Key == "" {
			return nil, errors.New("race key is empty")
		}
		if r.Price <= 0 {
			return nil, fmt.Errorf("race %s: price must be positive", r.Key)
		}
		if _, dup := c.races[r.Key]; dup {
			return nil, fmt.Errorf("race %s: duplicate key", r.Key)
		}
		c.races[r.Key] = r
	}
	return c, nil
}

type catalogFile struct {
	Races []Race `yaml:"races"`
}

// LoadCatalog reads a YAML file of the form:
//
//	races:
//	  - key: 5KM
//	    title: Fitness Run
//	    price: 699
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read race catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse race catalog: %w", err)
	}
	if len(f.Races) == 0 {
		return nil, errors.New("race catalog is empty")
	}
	return NewCatalog(f.Races)
}

func (c *Catalog) Race(key string) (Race, error) {
	r, ok := c.races[key]
	if !ok {
		return Race{}, fmt.Errorf("%w: %s", ErrUnknownRace, key)
	}
	return r, nil
}

func (c *Catalog) Price(key string) (int64, error) {
	r, err := c.Race(key)
	if err != nil {
		return 0, err
	}
	return r.Price, nil
}

func (c *Catalog) Valid(key string) bool {
	_, ok := c.races[key]
	return ok
}

func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.races))
	for k := range c.races {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
