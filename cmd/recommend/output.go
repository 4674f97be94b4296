package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/tui"
)

type response struct {
	Result  *recommend.Result `json:"result,omitempty"`
	Message string            `json:"message,omitempty"`
}

// render writes one answer. Errors are shown only as their user message.
func render(w io.Writer, prompt string, res *recommend.Result, err error, asJSON bool) {
	if asJSON {
		out := response{Result: res}
		if err != nil {
			out.Message = recommend.UserMessage(err)
		}
		buf, _ := json.Marshal(out)
		fmt.Fprintln(w, string(buf))
		return
	}
	var sb strings.Builder
	if prompt != "" {
		fmt.Fprintf(&sb, "> %s\n", prompt)
	}
	if err != nil {
		fmt.Fprintf(&sb, "%s\n", recommend.UserMessage(err))
		io.WriteString(w, sb.String())
		return
	}
	if res.Degraded {
		sb.WriteString("(keyword service unavailable, using simple matching)\n")
	}
	if len(res.Keywords) > 0 {
		fmt.Fprintf(&sb, "keywords: %s\n", strings.Join(res.Keywords, ", "))
	}
	if len(res.Tracks) == 0 {
		sb.WriteString("no tracks found, try describing a mood, genre or activity\n")
	}
	for i, t := range res.Tracks {
		fmt.Fprintf(&sb, "%2d. %s - %s (%s)", i+1, t.Title, t.Artist, t.DurationString())
		if t.URL != "" {
			fmt.Fprintf(&sb, "  %s", t.URL)
		}
		sb.WriteString("\n")
	}
	io.WriteString(w, sb.String())
}

// renderPretty is render for a terminal: a styled header and a table of
// tracks.
func renderPretty(w io.Writer, res *recommend.Result, err error) {
	if err != nil {
		fmt.Fprintln(w, tui.Error(recommend.UserMessage(err)))
		return
	}
	if res.Degraded {
		fmt.Fprintln(w, tui.Warning("keyword service unavailable, using simple matching"))
	}
	if len(res.Keywords) > 0 {
		fmt.Fprintln(w, tui.Title("Keywords")+" "+tui.Bold(strings.Join(res.Keywords, ", ")))
	}
	if len(res.Tracks) == 0 {
		fmt.Fprintln(w, tui.Muted("no tracks found, try describing a mood, genre or activity"))
		return
	}
	rows := make([][]string, 0, len(res.Tracks))
	for i, t := range res.Tracks {
		link := t.URL
		if link != "" {
			link = tui.Link(link)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			tui.MaxWidth(t.Title, 40),
			tui.MaxWidth(t.Artist, 30),
			t.DurationString(),
			link,
		})
	}
	fmt.Fprintln(w, tui.Table([]string{"#", "Title", "Artist", "Length", "Link"}, rows))
	fmt.Fprintln(w, tui.Muted(fmt.Sprintf("%s in %s (request %s)", res.Outcome, res.Latency.Round(time.Millisecond), res.RequestID)))
}
