package service_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func sampleRecipient() *model.Recipient {
	return &model.Recipient{
		RecordID:      "r1",
		CustomerEmail: "sam@example.com",
		CustomerName:  "Sam Rivera",
		SchoolName:    "Virginia Tech",
		SchoolPage:    "https://shop.example.com/vt",
		SchoolLogo:    "https://cdn.example.com/vt.png",
		Products: model.Products{
			{Name: "Hokie Hoodie", Link: "https://shop.example.com/p/1", Image: "https://cdn.example.com/1.png", Price: "49.99"},
			{Name: "Maroon Cap", Price: "$19.00"},
		},
	}
}

func TestRender_IsDeterministic(t *testing.T) {
	r := service.NewRenderer()
	cfg := model.TemplateConfig{"MAIN_TITLE": "Fall Drop"}

	a, err := r.Render("", cfg, sampleRecipient())
	require.NoError(t, err)
	b, err := r.Render("", cfg, sampleRecipient())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRender_FillsEverySlot(t *testing.T) {
	out, err := service.NewRenderer().Render("", nil, sampleRecipient())
	require.NoError(t, err)

	assert.NotContains(t, out.HTMLBody, "{{")
	assert.Contains(t, out.HTMLBody, "Hi Sam,")
	assert.Contains(t, out.HTMLBody, "Featured Virginia Tech Collection")
	assert.Contains(t, out.HTMLBody, `href="https://shop.example.com/vt"`)
	assert.Contains(t, out.HTMLBody, "https://cdn.example.com/vt.png")
	assert.Contains(t, out.HTMLBody, "$49.99")
	// two product buttons plus the main call to action
	assert.Equal(t, 3, strings.Count(out.HTMLBody, ">Shop Now</a>"))
	assert.Equal(t, "sam@example.com", out.To)
	assert.Equal(t, "Sam Rivera", out.ToName)
}

func TestRender_DefaultsWhenSlotsAreBlank(t *testing.T) {
	rec := &model.Recipient{CustomerEmail: "a@example.com"}
	out, err := service.NewRenderer().Render("<a>{{CTA_TEXT}}</a><p>{{GREETING_TEXT}}</p>", model.TemplateConfig{"CTA_TEXT": ""}, rec)
	require.NoError(t, err)
	assert.Equal(t, "<a>Shop Now</a><p>Hi there,</p>", out.HTMLBody)
}

func TestRender_UnknownSlotsRenderEmpty(t *testing.T) {
	rec := &model.Recipient{CustomerEmail: "a@example.com"}
	out, err := service.NewRenderer().Render("[{{ NOPE }}][{{company_name}}]", nil, rec)
	require.NoError(t, err)
	assert.Equal(t, "[][R and R Imports]", out.HTMLBody)
}

func TestRender_EscapesRecipientData(t *testing.T) {
	rec := &model.Recipient{CustomerEmail: "a@example.com", CustomerName: "<script>x</script>"}
	out, err := service.NewRenderer().Render("{{CUSTOMER_NAME}}", nil, rec)
	require.NoError(t, err)
	assert.Equal(t, "&lt;script&gt;x&lt;/script&gt;", out.HTMLBody)
}

func TestRender_MissingEmail(t *testing.T) {
	_, err := service.NewRenderer().Render("", nil, &model.Recipient{CustomerName: "Sam"})
	assert.True(t, appErrors.IsMissingRequiredField(err))
}

func TestRender_ProductLayout(t *testing.T) {
	r := service.NewRenderer()
	rec := &model.Recipient{CustomerEmail: "a@example.com", Products: model.Products{{Name: "Solo"}}}

	out, err := r.Render("{{PRODUCTS_HTML}}", nil, rec)
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, `width="100%" align="center"`)

	for i := 0; i < 6; i++ {
		rec.Products = append(rec.Products, model.Product{Name: "Extra"})
	}
	out, err = r.Render("{{PRODUCTS_HTML}}", nil, rec)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out.HTMLBody, "Shop Now"))

	rec.Products = nil
	out, err = r.Render("{{PRODUCTS_HTML}}", nil, rec)
	require.NoError(t, err)
	assert.Empty(t, out.HTMLBody)
}

func TestSubject(t *testing.T) {
	r := service.NewRenderer()
	cfg := model.TemplateConfig{"subject_line": "New gear is here"}
	tests := []struct {
		label  string
		name   string
		school string
		want   string
	}{
		{"name and school", "Sam Rivera", "JMU", "Hi Sam, JMU Collection Just Dropped!"},
		{"name only", "Sam", "", "Hi Sam! New gear is here"},
		{"school only", "", "JMU", "JMU New gear is here"},
		{"neither", "", "", "New gear is here"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			rec := &model.Recipient{CustomerEmail: "a@example.com", CustomerName: tt.name, SchoolName: tt.school}
			assert.Equal(t, tt.want, r.Subject(cfg, rec))
		})
	}
	assert.Equal(t, service.DefaultTemplateConfig["SUBJECT"], r.Subject(nil, &model.Recipient{}))
}

func TestNormalizeTemplateConfig(t *testing.T) {
	got := service.NormalizeTemplateConfig(model.TemplateConfig{
		"title":      " Aliased ",
		"MAIN_TITLE": "Explicit",
		"greeting":   "Hey,",
		"":           "dropped",
	})
	assert.Equal(t, model.TemplateConfig{"MAIN_TITLE": "Explicit", "GREETING_TEXT": "Hey,"}, got)
}
