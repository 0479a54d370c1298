package archive

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNew_RejectsGarbage(t *testing.T) {
	_, err := New([]byte("this is not a zip file"))
	assert.ErrorIs(t, err, ErrNotArchive)
}

func TestReadFile(t *testing.T) {
	data := buildZip(t, map[string]string{
		"widget/readme.txt": "=== Widget ===\nVersion: 1.2.0\n",
		"widget/widget.js":  "console.log('hi')",
	})
	a, err := New(data)
	require.NoError(t, err)

	content, err := a.ReadFile("widget/readme.txt")
	require.NoError(t, err)
	assert.Contains(t, string(content), "Version: 1.2.0")

	_, err = a.ReadFile("widget/missing.txt")
	assert.ErrorIs(t, err, ErrEntryMissing)
}

func TestReadFile_BackslashEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		`widget\readme.txt`: "windows-built archive",
	})
	a, err := New(data)
	require.NoError(t, err)

	content, err := a.ReadFile("widget/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "windows-built archive", string(content))
}

func TestTopLevelDir(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		want    string
		wantErr bool
	}{
		{
			name: "single folder",
			entries: map[string]string{
				"widget/readme.txt":    "r",
				"widget/src/widget.js": "w",
			},
			want: "widget",
		},
		{
			name: "file at root",
			entries: map[string]string{
				"readme.txt": "r",
			},
			wantErr: true,
		},
		{
			name: "two top-level folders",
			entries: map[string]string{
				"widget/readme.txt": "r",
				"gadget/readme.txt": "r",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(buildZip(t, tt.entries))
			require.NoError(t, err)
			top, err := a.TopLevelDir()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoTopLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, top)
		})
	}
}

func TestValidate_RejectsTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{
		"widget/../../etc/passwd": "pwned",
	})
	a, err := New(data)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Validate(), ErrEntryEscapes)
}

func TestValidate_AcceptsNormalLayout(t *testing.T) {
	data := buildZip(t, map[string]string{
		"widget/readme.txt":       "r",
		"widget/assets/icon.png":  "p",
		"widget/includes/util.js": "u",
	})
	a, err := New(data)
	require.NoError(t, err)
	assert.NoError(t, a.Validate())
	assert.Len(t, a.Entries(), 3)
	assert.True(t, a.Contains("widget/assets/icon.png"))
}
