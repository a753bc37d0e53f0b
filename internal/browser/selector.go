package browser

import (
	"fmt"
	"strings"
)

// Selector addresses elements that may live inside nested shadow roots.
// Hosts are walked in order; each one is searched for inside the previous host's tree.
type Selector struct {
	Hosts []string
	CSS   string
}

// CSS is a shorthand for a selector in the light DOM.
func CSS(css string) Selector {
	return Selector{CSS: css}
}

// InShadow builds a selector for css reached through the given chain of shadow hosts.
func InShadow(css string, hosts ...string) Selector {
	return Selector{Hosts: hosts, CSS: css}
}

func (s Selector) IsZero() bool {
	return s.CSS == "" && len(s.Hosts) == 0
}

// Steps is the ordered locator pipeline: every host followed by the target.
func (s Selector) Steps() []string {
	steps := make([]string, 0, len(s.Hosts)+1)
	steps = append(steps, s.Hosts...)
	if s.CSS != "" {
		steps = append(steps, s.CSS)
	}
	if len(steps) == 0 {
		steps = append(steps, "html")
	}
	return steps
}

func (s Selector) String() string {
	return strings.Join(s.Steps(), " >> ")
}

// Element is a plain snapshot of a DOM node taken by Extract.
type Element struct {
	Text       string
	Disabled   bool
	Classes    []string
	Attributes map[string]string
}

// Attr returns the attribute value or "".
func (e Element) Attr(name string) string {
	return e.Attributes[name]
}

func (e Element) HasClass(substr string) bool {
	for _, c := range e.Classes {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

const extractScript = `els => els.map(el => ({
	text: (el.innerText || el.textContent || '').trim(),
	disabled: el.disabled === true || el.hasAttribute('disabled') || el.getAttribute('aria-disabled') === 'true',
	classes: Array.from(el.classList || []),
	attrs: Object.fromEntries(Array.from(el.attributes || []).map(a => [a.name, a.value])),
}))`

// decodeElements converts the loosely typed EvaluateAll result into Elements.
func decodeElements(raw interface{}) ([]Element, error) {
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected extract result %T", raw)
	}

	elements := make([]Element, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		el := Element{Attributes: map[string]string{}}
		if text, ok := m["text"].(string); ok {
			el.Text = text
		}
		if disabled, ok := m["disabled"].(bool); ok {
			el.Disabled = disabled
		}
		if classes, ok := m["classes"].([]interface{}); ok {
			for _, c := range classes {
				if cs, ok := c.(string); ok {
					el.Classes = append(el.Classes, cs)
				}
			}
		}
		if attrs, ok := m["attrs"].(map[string]interface{}); ok {
			for k, v := range attrs {
				el.Attributes[k] = fmt.Sprintf("%v", v)
			}
		}

		elements = append(elements, el)
	}

	return elements, nil
}
