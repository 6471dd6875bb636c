package placeholder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, missing := Render("apt-get install -y {{ package }} && echo {{host_name}}", map[string]string{
		"package":   "nginx",
		"host_name": "web-1",
	})
	require.Empty(t, missing)
	require.Equal(t, "apt-get install -y nginx && echo web-1", out)
}

func TestRenderReportsMissing(t *testing.T) {
	out, missing := Render("{{a}} {{b}} {{a}} {{ c }}", map[string]string{"b": "2"})
	require.Equal(t, []string{"a", "c"}, missing)
	require.Equal(t, "{{a}} 2 {{a}} {{ c }}", out)
}

func TestRenderReportsMalformedPlaceholders(t *testing.T) {
	out, missing := Render("echo {{ foo bar }} {{}} {{ok}} {{9lives}}", map[string]string{"ok": "yes", "foo": "x"})
	require.Equal(t, []string{"{{ foo bar }}", "{{9lives}}", "{{}}"}, missing)
	require.Equal(t, "echo {{ foo bar }} {{}} yes {{9lives}}", out)
}

func TestRenderDoesNotRecurse(t *testing.T) {
	out, missing := Render("{{a}}", map[string]string{"a": "{{b}}"})
	require.Empty(t, missing)
	require.Equal(t, "{{b}}", out)
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"port", "user"}, Names("ssh {{user}}@x -p {{port}} {{ user }}"))
	require.Empty(t, Names("docker ps"))
}
