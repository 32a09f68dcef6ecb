package dieselrhi

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	CVarRHIThread                        = "r.Vulkan.RHIThread"
	CVarDelayAcquireBackBuffer           = "r.Vulkan.DelayAcquireBackBuffer"
	CVarEnableValidation                 = "r.Vulkan.EnableValidation"
	CVarNumFramesToWaitForResourceDelete = "r.Vulkan.NumFramesToWaitForResourceDelete"
	CVarBackBufferCount                  = "r.Vulkan.BackBufferCount"
	CVarGraphicsAdapter                  = "r.GraphicsAdapter"
	CVarVSync                            = "r.VSync"
)

// ConsoleVariables is a set of name=value console variables. Lookups fall through
// to the linked set when a name is not present locally.
type ConsoleVariables struct {
	Name   string
	values map[string]string
	Linked *ConsoleVariables
}

func NewConsoleVariables(name string) *ConsoleVariables {
	return &ConsoleVariables{
		Name:   name,
		values: make(map[string]string),
	}
}

// DefaultConsoleVariables holds the engine defaults for every known variable.
func DefaultConsoleVariables() *ConsoleVariables {
	cv := NewConsoleVariables("defaults")
	cv.Set(CVarRHIThread, "1")
	cv.Set(CVarDelayAcquireBackBuffer, "1")
	cv.Set(CVarEnableValidation, "0")
	cv.Set(CVarNumFramesToWaitForResourceDelete, "0")
	cv.Set(CVarBackBufferCount, "3")
	cv.Set(CVarGraphicsAdapter, "-1")
	cv.Set(CVarVSync, "1")
	return cv
}

// ParseConsoleVariables reads one name=value pair per line. Blank lines and lines
// starting with ';' or '#' are skipped.
func ParseConsoleVariables(name string, r io.Reader) (*ConsoleVariables, error) {
	cv := NewConsoleVariables(name)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "#") {
			continue
		}
		if err := cv.SetPair(text); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", name, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return cv, nil
}

// SetPair parses a single "name=value" assignment.
func (c *ConsoleVariables) SetPair(pair string) error {
	key, value, ok := strings.Cut(pair, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return errors.Newf("malformed console variable %q", pair)
	}
	c.Set(key, strings.TrimSpace(value))
	return nil
}

func (c *ConsoleVariables) Set(name, value string) {
	c.values[name] = value
}

func (c *ConsoleVariables) lookup(name string) (string, bool) {
	for cv := c; cv != nil; cv = cv.Linked {
		if v, ok := cv.values[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Names returns every name visible through the chain, sorted.
func (c *ConsoleVariables) Names() []string {
	seen := make(map[string]struct{})
	for cv := c; cv != nil; cv = cv.Linked {
		for k := range cv.values {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *ConsoleVariables) Get(name, def string) string {
	if v, ok := c.lookup(name); ok {
		return v
	}
	return def
}

func (c *ConsoleVariables) Int(name string, def int) int {
	v, ok := c.lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool accepts the integer form used by console variables as well as true/false.
func (c *ConsoleVariables) Bool(name string, def bool) bool {
	v, ok := c.lookup(name)
	if !ok {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n != 0
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
