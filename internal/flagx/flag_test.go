package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	allowed := []string{"-c", "--config", "-a"}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate value kept", []string{"-c", "conf.json", "-z", "x"}, []string{"-c", "conf.json"}},
		{"equals form kept", []string{"--config=alt.json", "-z", "x"}, []string{"--config=alt.json"}},
		{"order preserved", []string{"--config=a.json", "-c", "b.json"}, []string{"--config=a.json", "-c", "b.json"}},
		{"foreign flags dropped", []string{"-x", "1", "--y=2", "positional"}, []string{}},
		{"trailing flag without value", []string{"-c"}, []string{"-c"}},
		{"dash token is not a value", []string{"-c", "-notvalue"}, []string{"-c"}},
		{"equals value may start with dashes", []string{"--config=--weird.json"}, []string{"--config=--weird.json"}},
		{"several allowed flags", []string{"-a", "host:8080", "-c", "conf.json", "--other", "x"}, []string{"-a", "host:8080", "-c", "conf.json"}},
		{"empty input", []string{}, []string{}},
		{"repeated flag kept twice", []string{"-c", "one.json", "-c", "two.json"}, []string{"-c", "one.json", "-c", "two.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short form", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long form", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("unrelated flags yield nothing", func(t *testing.T) {
		os.Args = []string{"testbin", "-x", "1", "-y", "2"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("last occurrence wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})
}
