// internal/formfill/discovery_test.go
package formfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeDiscovery(d *fakeDriver, raws []rawControl) {
	d.on("precedingText", respondWith(raws))
}

func TestClassifyControlSkipsNonFields(t *testing.T) {
	for _, typ := range []string{"hidden", "submit", "button", "reset", "image"} {
		_, ok := classifyControl(rawControl{Tag: "input", Attrs: map[string]string{"type": typ, "name": "x"}})
		assert.False(t, ok, typ)
	}
	_, ok := classifyControl(rawControl{Tag: "input", Attrs: map[string]string{"type": "text", "name": "x"}})
	assert.True(t, ok)
}

func TestInferLabelOrder(t *testing.T) {
	base := rawControl{Tag: "input", Attrs: map[string]string{"type": "text"}}

	withAll := base
	withAll.Attrs = map[string]string{
		"type": "text", "aria-label": "Aria Name",
		"placeholder": "Placeholder Name", "name": "attr_name",
	}
	withAll.LabelFor = "For Label"
	withAll.WrappingLabel = "Wrapping Label"
	withAll.SiblingText = "Sibling Text"
	assert.Equal(t, "Aria Name", inferLabel(withAll, FieldText))

	withAll.Attrs["aria-label"] = ""
	assert.Equal(t, "For Label", inferLabel(withAll, FieldText))

	withAll.LabelFor = ""
	assert.Equal(t, "Wrapping Label", inferLabel(withAll, FieldText))

	withAll.WrappingLabel = ""
	assert.Equal(t, "Sibling Text", inferLabel(withAll, FieldText))

	withAll.SiblingText = ""
	assert.Equal(t, "Placeholder Name", inferLabel(withAll, FieldText))

	withAll.Attrs["placeholder"] = ""
	assert.Equal(t, "Attr Name", inferLabel(withAll, FieldText))

	withAll.Attrs["name"] = ""
	assert.Equal(t, "Text Field", inferLabel(withAll, FieldText))
}

func TestInferLabelStripsValueFromWrappingLabel(t *testing.T) {
	raw := rawControl{
		Tag:           "select",
		Attrs:         map[string]string{},
		Value:         "United States",
		WrappingLabel: "Country United States",
		Options:       []string{"United States", "Canada"},
	}
	assert.Equal(t, "Country", inferLabel(raw, FieldSelect))
}

func TestInferLabelIgnoresLongSiblingText(t *testing.T) {
	raw := rawControl{
		Tag:         "input",
		Attrs:       map[string]string{"type": "text", "name": "bio"},
		SiblingText: "This is a very long paragraph of explanatory text that goes on and on well past any reasonable label length limit",
	}
	assert.Equal(t, "Bio", inferLabel(raw, FieldText))
}

func TestHumanizeName(t *testing.T) {
	assert.Equal(t, "First Name", humanizeName("first-name"))
	assert.Equal(t, "User Email", humanizeName("user_email"))
	assert.Equal(t, "Billing Address", humanizeName("billingAddress"))
	assert.Equal(t, "Phone2", humanizeName("phone2"))
}

func TestBuildSelectorsPreference(t *testing.T) {
	raw := rawControl{
		Tag: "input",
		Attrs: map[string]string{
			"name": "email", "id": "email-input", "data-testid": "email-field",
		},
		CSSPath: "#signup > input:nth-of-type(3)",
	}
	primary, alternates := buildSelectors(raw)
	assert.Equal(t, `input[name="email"]`, primary)
	require.Len(t, alternates, 2)
	assert.Equal(t, `[id="email-input"]`, alternates[0])
	assert.Equal(t, `[data-testid="email-field"]`, alternates[1])

	bare := rawControl{Tag: "textarea", Attrs: map[string]string{}, CSSPath: "#contact > textarea:nth-of-type(2)"}
	primary, alternates = buildSelectors(bare)
	assert.Equal(t, "#contact > textarea:nth-of-type(2)", primary,
		"positional fallback stays anchored to its section")
	assert.Empty(t, alternates)

	unplaceable := rawControl{Tag: "input", Attrs: map[string]string{}}
	primary, alternates = buildSelectors(unplaceable)
	assert.Empty(t, primary)
	assert.Empty(t, alternates)
}

func TestInferType(t *testing.T) {
	cases := []struct {
		name string
		raw  rawControl
		want FieldType
	}{
		{"explicit email", rawControl{Tag: "input", Attrs: map[string]string{"type": "email"}}, FieldEmail},
		{"datetime-local", rawControl{Tag: "input", Attrs: map[string]string{"type": "datetime-local"}}, FieldDatetime},
		{"select tag", rawControl{Tag: "select", Attrs: map[string]string{}}, FieldSelect},
		{"combobox role", rawControl{Tag: "div", Attrs: map[string]string{"role": "combobox"}}, FieldSelect},
		{"textarea", rawControl{Tag: "textarea", Attrs: map[string]string{}}, FieldTextarea},
		{"class keyword", rawControl{Tag: "input", Attrs: map[string]string{"type": "text"}, ClassName: "form-control phone-input"}, FieldTel},
		{"inputmode", rawControl{Tag: "input", Attrs: map[string]string{"type": "text", "inputmode": "numeric"}}, FieldNumber},
		{"placeholder at-sign", rawControl{Tag: "input", Attrs: map[string]string{"type": "text", "placeholder": "you@example.com"}}, FieldEmail},
		{"search normalizes to text", rawControl{Tag: "input", Attrs: map[string]string{"type": "search"}}, FieldText},
		{"unknown defaults to text", rawControl{Tag: "input", Attrs: map[string]string{"type": "wat"}}, FieldText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, inferType(tc.raw))
		})
	}
}

func TestInferRequired(t *testing.T) {
	assert.True(t, inferRequired(rawControl{Attrs: map[string]string{"required": ""}}, "Name"))
	assert.True(t, inferRequired(rawControl{Attrs: map[string]string{"aria-required": "true"}}, "Name"))
	assert.True(t, inferRequired(rawControl{Attrs: map[string]string{}}, "Name *"))
	assert.False(t, inferRequired(rawControl{Attrs: map[string]string{}}, "Name"))
}

func TestIsCustomWidget(t *testing.T) {
	assert.True(t, isCustomWidget(rawControl{Tag: "div", Attrs: map[string]string{"role": "combobox"}}))
	assert.True(t, isCustomWidget(rawControl{Tag: "span", Attrs: map[string]string{}, ClassName: "select2-selection"}))
	assert.False(t, isCustomWidget(rawControl{Tag: "select", Attrs: map[string]string{}}))
	assert.False(t, isCustomWidget(rawControl{Tag: "input", Attrs: map[string]string{"type": "text"}}))
}

func TestDiscoverGroupsRadios(t *testing.T) {
	d := newFakeDriver()
	routeDiscovery(d, []rawControl{
		{Tag: "input", Attrs: map[string]string{"type": "radio", "name": "size", "value": "s"}, WrappingLabel: "Small", Legend: "Shirt Size"},
		{Tag: "input", Attrs: map[string]string{"type": "radio", "name": "size", "value": "m"}, WrappingLabel: "Medium", Legend: "Shirt Size"},
		{Tag: "input", Attrs: map[string]string{"type": "radio", "name": "size", "value": "l", "required": ""}, WrappingLabel: "Large", Legend: "Shirt Size"},
	})

	fields, err := NewDiscoverer(d, testLogger()).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 1)

	g := fields[0]
	assert.Equal(t, FieldRadio, g.Type)
	assert.Equal(t, "Shirt Size", g.Label)
	assert.Equal(t, []string{"Small", "Medium", "Large"}, g.Options)
	assert.True(t, g.Required, "group inherits required from any member")
}

func TestDiscoverLoneCheckboxStaysBoolean(t *testing.T) {
	d := newFakeDriver()
	routeDiscovery(d, []rawControl{
		{Tag: "input", Attrs: map[string]string{"type": "checkbox", "name": "consent"}, WrappingLabel: "I agree to the terms"},
	})

	fields, err := NewDiscoverer(d, testLogger()).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, FieldCheckbox, fields[0].Type)
	assert.Equal(t, "I agree to the terms", fields[0].Label)
	assert.Empty(t, fields[0].Options, "single checkbox keeps yes/no semantics")
}

func TestDiscoverCheckboxGroupUpgrade(t *testing.T) {
	d := newFakeDriver()
	routeDiscovery(d, []rawControl{
		{Tag: "input", Attrs: map[string]string{"type": "checkbox", "name": "interests", "value": "sports"}, WrappingLabel: "Sports"},
		{Tag: "input", Attrs: map[string]string{"type": "checkbox", "name": "interests", "value": "music"}, WrappingLabel: "Music"},
	})

	fields, err := NewDiscoverer(d, testLogger()).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "Interests", fields[0].Label)
	assert.Equal(t, []string{"Sports", "Music"}, fields[0].Options)
}

func TestDiscoverMixedForm(t *testing.T) {
	d := newFakeDriver()
	routeDiscovery(d, []rawControl{
		{Tag: "input", Attrs: map[string]string{"type": "text", "name": "full_name", "required": ""}, LabelFor: "Full Name"},
		{Tag: "input", Attrs: map[string]string{"type": "email", "name": "email"}, LabelFor: "Email"},
		{Tag: "input", Attrs: map[string]string{"type": "hidden", "name": "csrf"}},
		{Tag: "select", Attrs: map[string]string{"name": "country"}, LabelFor: "Country", Options: []string{"United States", "Canada"}},
		{Tag: "div", Attrs: map[string]string{"role": "combobox", "id": "city-picker"}, ClassName: "react-select__control"},
	})

	fields, err := NewDiscoverer(d, testLogger()).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, "Full Name", fields[0].Label)
	assert.True(t, fields[0].Required)
	assert.Equal(t, FieldEmail, fields[1].Type)
	assert.Equal(t, []string{"United States", "Canada"}, fields[2].Options)
	assert.True(t, fields[3].CustomWidget)
	assert.Equal(t, FieldSelect, fields[3].Type)
}

func TestFieldIdentity(t *testing.T) {
	byName := &Field{Label: "Email Address", Selector: `input[name="email"]`}
	assert.Equal(t, "email", byName.Identity())

	byID := &Field{Label: "Email Address", Selector: "#signup-email"}
	assert.Equal(t, "signup-email", byID.Identity())

	positional := &Field{Label: "Email Address", Selector: "input:nth-of-type(2)"}
	assert.Equal(t, "email_address", positional.Identity())

	anchored := &Field{Label: "Email Address", Selector: "#signup > input:nth-of-type(2)"}
	assert.Equal(t, "email_address", anchored.Identity(),
		"a path anchored at an ancestor id is not an id selector")
}
