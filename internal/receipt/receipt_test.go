package receipt

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		OrderID:       42,
		TransactionID: "PAG_42_20260301_101500",
		Method:        "visa card",
		Currency:      "USD",
		CustomerName:  "ada LOVELACE",
		CustomerEmail: "Ada@Example.com",
		PaidAt:        time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		Lines: []Line{
			{Title: "sunset over lake", Quantity: 1, UnitPrice: decimal.RequireFromString("120.00")},
			{Title: "Print A3", Quantity: 3, UnitPrice: decimal.RequireFromString("15.50")},
		},
	}
}

func plainGenerator() *Generator {
	g := NewGenerator("Pearl Art Galleries", "support@example.com")
	g.compress = false
	return g
}

func TestRenderIsDeterministic(t *testing.T) {
	g := plainGenerator()
	first, err := g.Render(sampleDocument())
	require.NoError(t, err)
	second, err := g.Render(sampleDocument())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")))
	assert.Equal(t, first, second)
}

func TestRenderContainsReceiptFacts(t *testing.T) {
	out, err := plainGenerator().Render(sampleDocument())
	require.NoError(t, err)

	for _, want := range []string{
		"PAG_42_20260301_101500",
		"Order ID: 42",
		"Ada Lovelace",
		"ada@example.com",
		"Sunset over lake",
		"USD 46.50",
		"USD 166.50",
	} {
		assert.Contains(t, string(out), want)
	}
}

func TestRenderChangesWithInput(t *testing.T) {
	g := plainGenerator()
	a, err := g.Render(sampleDocument())
	require.NoError(t, err)

	d := sampleDocument()
	d.Lines[1].Quantity = 4
	b, err := g.Render(d)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDocumentTotal(t *testing.T) {
	d := sampleDocument()
	assert.Equal(t, "166.50", d.Total().StringFixed(2))
	assert.Equal(t, "Receipt_PAG_42_20260301_101500.pdf", d.FileName())
	assert.Equal(t, "Receipt_PAG_42_20260301_101500", PublicID(d.TransactionID))
}

type fakeUploader struct {
	params uploader.UploadParams
	body   []byte
	res    *uploader.UploadResult
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	f.params = params
	if r, ok := file.(*bytes.Reader); ok {
		f.body = make([]byte, r.Len())
		_, _ = r.Read(f.body)
	}
	return f.res, f.err
}

func TestCloudinaryUploadsRawResource(t *testing.T) {
	fake := &fakeUploader{res: &uploader.UploadResult{SecureURL: "https://cdn.example.com/r.pdf"}}
	u := &CloudinaryUploader{api: fake, folder: "receipts"}

	url, err := u.Upload(context.Background(), PublicID("T1"), []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/r.pdf", url)
	assert.Equal(t, "raw", fake.params.ResourceType)
	assert.Equal(t, "Receipt_T1", fake.params.PublicID)
	assert.Equal(t, "receipts", fake.params.Folder)
	assert.Equal(t, []byte("%PDF-1.3"), fake.body)
}

func TestCloudinaryUploadErrors(t *testing.T) {
	cases := []struct {
		name string
		fake *fakeUploader
	}{
		{"transport", &fakeUploader{err: errors.New("dial tcp: timeout")}},
		{"api error", &fakeUploader{res: &uploader.UploadResult{Error: api.ErrorResp{Message: "Invalid Signature"}}}},
		{"no url", &fakeUploader{res: &uploader.UploadResult{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := &CloudinaryUploader{api: tc.fake}
			_, err := u.Upload(context.Background(), "Receipt_x", []byte("x"))
			assert.Error(t, err)
		})
	}
}
