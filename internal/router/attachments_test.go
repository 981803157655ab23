package router

import (
	"context"
	"strings"
	"testing"

	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/ticketlink"
)

var files = []connector.Attachment{{Name: "scan.pdf", URL: "http://files/scan.pdf"}}

func TestAttachmentBindsToActiveWait(t *testing.T) {
	f := newFixture(t, Config{})
	f.state.TrySetTicketWait(testKey, "501")

	f.router.HandleAttachment(context.Background(), testKey, "here it is", files)

	if len(f.tickets.comments) != 1 || !strings.HasPrefix(f.tickets.comments[0], "501:[ATTACH]") {
		t.Fatalf("comments = %v", f.tickets.comments)
	}
	if !strings.Contains(f.tickets.comments[0], "http://files/scan.pdf") {
		t.Errorf("file url missing: %q", f.tickets.comments[0])
	}
	if _, ok := f.state.PeekTicketWait(testKey); ok {
		t.Error("wait not consumed")
	}
}

func TestAttachmentBindsToLatestActiveQuestion(t *testing.T) {
	f := newFixture(t, Config{})
	f.links.Upsert(&ticketlink.Link{TicketID: "777", ChatID: "100", UserID: "7", Kind: ticketlink.KindQuestion, IsActive: true})

	f.router.HandleAttachment(context.Background(), testKey, "", files)

	if len(f.tickets.comments) != 1 || !strings.HasPrefix(f.tickets.comments[0], "777:") {
		t.Fatalf("comments = %v", f.tickets.comments)
	}
	if len(f.tickets.created) != 0 {
		t.Error("created a new ticket despite an active question link")
	}
}

func TestAttachmentWithCaptionOpensQuestionTicket(t *testing.T) {
	f := newFixture(t, Config{})

	f.router.HandleAttachment(context.Background(), testKey, "please check this contract", files)

	if len(f.tickets.created) != 1 {
		t.Fatalf("created = %v", f.tickets.created)
	}
	if !strings.HasPrefix(f.tickets.created[0].Title, "Question:") {
		t.Errorf("title = %q", f.tickets.created[0].Title)
	}
	if len(f.tickets.comments) != 1 {
		t.Fatalf("attachments not appended: %v", f.tickets.comments)
	}
}

func TestBareAttachmentLandsOnDocsTicket(t *testing.T) {
	f := newFixture(t, Config{})

	f.router.HandleAttachment(context.Background(), testKey, "", files)

	if len(f.tickets.created) != 1 || !strings.Contains(f.tickets.created[0].Title, "Documents from chat") {
		t.Fatalf("created = %v", f.tickets.created)
	}

	// A second bare attachment reuses the same docs ticket.
	f.router.HandleAttachment(context.Background(), testKey, "", files)
	if len(f.tickets.created) != 1 {
		t.Error("docs ticket not reused")
	}
	if len(f.tickets.comments) != 2 {
		t.Errorf("comments = %v", f.tickets.comments)
	}
}

func TestAttachmentBypassesDebounce(t *testing.T) {
	f := newFixture(t, Config{})

	f.router.Receive(context.Background(), connector.InboundMessage{
		ChatID: "100", SenderID: "7", Username: "anna_k", Content: "see attached", Attachments: files,
	})

	if f.router.debounce.Pending(testKey) {
		t.Error("attachment message entered the debounce queue")
	}
	if len(f.tickets.created) != 1 {
		t.Error("attachment was not handled immediately")
	}
}
