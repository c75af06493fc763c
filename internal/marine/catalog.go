package marine

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

//go:embed ports.yaml
var defaultPorts []byte

var portCodePattern = regexp.MustCompile(`^[A-Z]{5}$`)

// Port is a UN/LOCODE with the coordinates used to query forecasts.
type Port struct {
	Code string  `yaml:"code" json:"code"`
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

func (p Port) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required, validation.Match(portCodePattern)),
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Lat, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&p.Lon, validation.Min(-180.0), validation.Max(180.0)),
	)
}

type catalogFile struct {
	Default string `yaml:"default"`
	Ports   []Port `yaml:"ports"`
}

// Catalog is the fixed set of ports the service answers for.
type Catalog struct {
	ports       map[string]Port
	order       []string
	defaultCode string
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPorts)
}

// LoadCatalog reads a YAML catalog from path, or the built-in one when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read port catalog"), "path", path)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, zerr.Wrap(err, "failed to decode port catalog")
	}

	c := &Catalog{ports: make(map[string]Port, len(file.Ports))}
	for _, p := range file.Ports {
		p.Code = normalizeCode(p.Code)
		if err := p.Validate(); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "invalid port"), "port", p.Code)
		}
		if _, exists := c.ports[p.Code]; exists {
			return nil, zerr.With(ErrDuplicatePort, "port", p.Code)
		}
		c.ports[p.Code] = p
		c.order = append(c.order, p.Code)
	}

	if len(c.order) == 0 {
		return nil, zerr.New("port catalog is empty")
	}

	c.defaultCode = c.order[0]
	if file.Default != "" {
		if err := c.SetDefault(file.Default); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Lookup(code string) (Port, error) {
	p, ok := c.ports[normalizeCode(code)]
	if !ok {
		return Port{}, zerr.With(ErrUnknownPort, "port", code)
	}
	return p, nil
}

// Resolve looks up code, falling back to the default port when code is empty.
func (c *Catalog) Resolve(code string) (Port, error) {
	if strings.TrimSpace(code) == "" {
		code = c.defaultCode
	}
	return c.Lookup(code)
}

func (c *Catalog) SetDefault(code string) error {
	p, err := c.Lookup(code)
	if err != nil {
		return err
	}
	c.defaultCode = p.Code
	return nil
}

func (c *Catalog) Default() string {
	return c.defaultCode
}

// Ports returns the catalog in file order.
func (c *Catalog) Ports() []Port {
	out := make([]Port, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.ports[code])
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
