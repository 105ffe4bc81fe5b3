package store

import (
	"fmt"
	"testing"
)

func TestSnippetLabels(t *testing.T) {
	s, _, _ := testStore(t)

	cases := []struct {
		name string
		att  Attachment
		want string
	}{
		{
			name: "photo",
			att:  Attachment{ContentType: "image/jpeg"},
			want: "Photo",
		},
		{
			name: "video",
			att:  Attachment{ContentType: "video/mp4"},
			want: "Video",
		},
		{
			name: "voice note",
			att:  Attachment{ContentType: "audio/aac", VoiceNote: true},
			want: "Voice message",
		},
		{
			name: "audio without filename",
			att:  Attachment{ContentType: "audio/mpeg"},
			want: "Voice message",
		},
		{
			// An audio file sent as a named document is a file, not a
			// voice message.
			name: "audio file with filename",
			att:  Attachment{ContentType: "audio/mpeg", FileName: "song.mp3"},
			want: "File: song.mp3",
		},
		{
			name: "document",
			att:  Attachment{ContentType: "application/pdf", FileName: "report.pdf"},
			want: "File: report.pdf",
		},
		{
			// A named image still reads as a photo.
			name: "image with filename",
			att:  Attachment{ContentType: "image/png", FileName: "shot.png"},
			want: "Photo",
		},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.InsertIncoming(IncomingMessage{
				SenderID: fmt.Sprintf("sender%d", i), DateSent: int64(1000 * (i + 1)), Secure: true,
				Attachments: []Attachment{tc.att},
			})
			if err != nil {
				t.Fatal(err)
			}
			thread, err := s.GetThread(res.ThreadID)
			if err != nil {
				t.Fatal(err)
			}
			if thread.Snippet != tc.want {
				t.Errorf("snippet = %q, want %q", thread.Snippet, tc.want)
			}
		})
	}
}
