package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func rankingDataset() Dataset {
	data := Dataset{Title: "Rankings 2024-T1", Headers: []string{"Subject", "Rank", "School", "Avg"}}
	data.Append("math", "1", "School a", "81.3")
	data.Append("math", "2", "School b")
	return data
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(rankingDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Subject,Rank,School,Avg", lines[0])
	assert.Equal(t, "math,2,School b,", lines[2])
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(rankingDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestXLSXExporterWritesNumbers(t *testing.T) {
	out, err := NewXLSXExporter().Render(rankingDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "School a", rows[1][2])
	assert.Equal(t, "81.3", rows[1][3])
}

func TestRenderersRejectMissingHeaders(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatPDF, FormatXLSX} {
		r, err := NewRenderer(format)
		require.NoError(t, err)
		assert.Equal(t, format, r.Format())
		_, err = r.Render(Dataset{})
		assert.Error(t, err)
	}
	_, err := NewRenderer("docx")
	assert.Error(t, err)
}
