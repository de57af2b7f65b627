package attachment

import (
	"testing"
)

func TestCreateParamsZeroValue(t *testing.T) {
	t.Parallel()

	var p CreateParams
	if p.ObjectKey != "" || p.UploaderID != "" || p.ContentType != "" {
		t.Error("CreateParams zero value should have empty strings")
	}
	if p.SizeBytes != 0 {
		t.Error("CreateParams zero value should have zero size")
	}
}

func TestPendingAttachmentZeroValue(t *testing.T) {
	t.Parallel()

	var a PendingAttachment
	if a.MessageID != nil {
		t.Error("PendingAttachment zero value should have nil MessageID")
	}
	if !a.CreatedAt.IsZero() {
		t.Error("PendingAttachment zero value should have zero CreatedAt")
	}
}
