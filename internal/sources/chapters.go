package sources

import (
	"regexp"
	"sort"
	"strings"
)

// Chapter is one timestamped segment of a longer video, parsed out of
// its description.
type Chapter struct {
	Title  string
	Start  int // seconds into the video
	Length int // seconds
}

var tsRe = regexp.MustCompile(`(?:\d+:)+\d+`)

// ParseChapters extracts a chapter list from a video description.
// A line counts as a chapter marker when it carries exactly one
// timestamp; the list is only trusted when it starts at 0:00. Returns
// nil when no usable chapters are found.
func ParseChapters(description string, totalSeconds int) []Chapter {
	type marker struct {
		title string
		start int
	}
	var markers []marker
	anchored := false

	for _, line := range strings.Split(description, "\n") {
		stamps := tsRe.FindAllString(line, -1)
		if len(stamps) != 1 {
			continue
		}
		start := timestampSeconds(stamps[0])
		if !anchored {
			if start != 0 {
				continue
			}
			anchored = true
		}
		title := chapterTitle(line, stamps[0])
		markers = append(markers, marker{title: title, start: start})
	}
	if !anchored || len(markers) == 0 {
		return nil
	}

	sort.Slice(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	var out []Chapter
	for i, m := range markers {
		end := totalSeconds
		if i < len(markers)-1 {
			end = markers[i+1].start
		}
		if end <= m.start || m.start < 0 {
			continue
		}
		out = append(out, Chapter{Title: m.title, Start: m.start, Length: end - m.start})
	}
	return out
}

func chapterTitle(line, stamp string) string {
	parts := strings.SplitN(line, stamp, 2)
	title := strings.TrimSpace(parts[0])
	if title == "" && len(parts) > 1 {
		title = strings.TrimSpace(parts[1])
	}
	title = strings.Trim(title, "-:–|>[]() \t")
	if title == "" {
		return "Chapter"
	}
	return title
}

func timestampSeconds(s string) int {
	total := 0
	for _, part := range strings.Split(s, ":") {
		n := 0
		for _, c := range part {
			if c >= '0' && c <= '9' {
				n = n*10 + int(c-'0')
			}
		}
		total = total*60 + n
	}
	return total
}
