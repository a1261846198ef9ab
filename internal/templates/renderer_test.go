package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererRestrictedFunctions(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	renderer := NewRenderer()

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{name: "env returns empty string", template: "{{ env \"TEST_VAR\" }}", want: ""},
		{name: "expandenv returns empty string", template: "{{ expandenv \"$TEST_VAR\" }}", want: ""},
		{name: "sprig helpers available", template: "{{ \"Sales\" | lower | trunc 3 }}", want: "sal"},
		{name: "readFile removed", template: "{{ readFile \"/etc/passwd\" }}", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := renderer.CompileInline("inline", tc.template)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			rendered, err := tmpl.Render(map[string]any{})
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}
}

func TestCompileInlineEmptySource(t *testing.T) {
	tmpl, err := NewRenderer().CompileInline("blank", "   ")
	require.NoError(t, err)
	require.Nil(t, tmpl)
	require.Empty(t, tmpl.Name())

	_, err = tmpl.Render(nil)
	require.Error(t, err)
}

func TestKeySet(t *testing.T) {
	keys, err := NewRenderer().CompileKeys(map[string]string{
		"contacts": `contact:list:{{ .type | default "all" | lower }}`,
		"stats":    "contact:stats",
		"blank":    `{{ .missing }}`,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		route   string
		params  map[string]string
		want    string
		wantErr bool
	}{
		{name: "default type", route: "contacts", want: "contact:list:all"},
		{name: "explicit type", route: "contacts", params: map[string]string{"type": "Sales"}, want: "contact:list:sales"},
		{name: "static key", route: "stats", params: map[string]string{"type": "x"}, want: "contact:stats"},
		{name: "empty render", route: "blank", wantErr: true},
		{name: "unknown route", route: "nope", wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			key, err := keys.Key(tc.route, tc.params)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

func TestCompileKeysRejectsBadSources(t *testing.T) {
	_, err := NewRenderer().CompileKeys(map[string]string{"contacts": "{{ .type "})
	require.Error(t, err)

	_, err = NewRenderer().CompileKeys(map[string]string{"contacts": " "})
	require.Error(t, err)
}
