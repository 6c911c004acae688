package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const sampleCSV = `Record ID,Email,Customer Name,School Code,product_1_name,product_1_price,product_2_name
r1,sam@example.com,Sam Rivera,vt,Hoodie,49.99,Cap
,,,,,,
r2, ana@example.com ,Ana,,,,
`

func TestParseCSV(t *testing.T) {
	recs, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r1", recs[0].RecordID)
	assert.Equal(t, "sam@example.com", recs[0].CustomerEmail)
	assert.Equal(t, "VT", recs[0].SchoolCode)
	assert.Equal(t, model.Products{{Name: "Hoodie", Price: "49.99"}, {Name: "Cap"}}, recs[0].Products)

	assert.Equal(t, "ana@example.com", recs[1].CustomerEmail)
	assert.Empty(t, recs[1].Products)
}

func TestParseCSV_Rejects(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("name,school\nSam,VT\n"))
	assert.True(t, appErrors.IsMissingRequiredField(err))

	_, err = ParseCSV(strings.NewReader(""))
	assert.True(t, appErrors.IsInvalidInput(err))

	_, err = ParseCSV(strings.NewReader("email\n"))
	assert.True(t, appErrors.IsInvalidInput(err))
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"customer_email", "customer_name", "school_name", "product_1_name", "product_1_link"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"kim@example.com", "Kim", "James Madison", "Tee", "https://shop.example.com/tee"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"lee@example.com"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	recs, err := Parse("list.XLSX", buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "James Madison", recs[0].SchoolName)
	assert.Equal(t, "https://shop.example.com/tee", recs[0].Products[0].Link)
	assert.Equal(t, "lee@example.com", recs[1].CustomerEmail)
}

func TestParse_GarbageWorkbook(t *testing.T) {
	_, err := Parse("list.xlsx", strings.NewReader("not a zip"))
	assert.True(t, appErrors.IsInvalidInput(err))
}
