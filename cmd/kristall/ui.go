package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell"
	"github.com/mattn/go-runewidth"
)

// drawString paints text at (x, y), clipped at the right screen edge,
// and returns the column after the last cell painted.
func drawString(s tcell.Screen, x, y int, text string, style tcell.Style) int {
	maxX, _ := s.Size()
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			r, w = ' ', 1
		}
		if x+w > maxX {
			break
		}
		s.SetContent(x, y, r, nil, style)
		x += w
	}
	return x
}

// drawPrompt clears the screen, paints the dialog heading and returns
// the first free row below it.
func drawPrompt(s tcell.Screen, msg string) int {
	s.Clear()
	w, _ := s.Size()
	y := 0
	for _, line := range strings.Split(msg, "\n") {
		for _, wrapped := range wrap(strings.TrimSuffix(line, "\r"), w-2) {
			drawString(s, 1, y, wrapped, tcell.StyleDefault.Bold(true))
			y++
		}
	}
	return y + 1
}

// pickOption shows a modal menu and returns the chosen index, or -1
// when the user backs out. Digit keys choose directly.
func pickOption(s tcell.Screen, msg string, options ...string) int {
	selected := 0
	for {
		y := drawPrompt(s, msg)
		for i, option := range options {
			style := tcell.StyleDefault
			if i == selected {
				style = style.Reverse(true)
			}
			drawString(s, 1, y+i, fmt.Sprintf("%d %s", i+1, option), style)
		}
		s.Show()
		switch ev := s.PollEvent().(type) {
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyUp, tcell.KeyBacktab:
				selected = (selected + len(options) - 1) % len(options)
			case tcell.KeyDown, tcell.KeyTab:
				selected = (selected + 1) % len(options)
			case tcell.KeyEnter:
				return selected
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return -1
			case tcell.KeyRune:
				switch r := ev.Rune(); {
				case r >= '1' && int(r-'0') <= len(options):
					return int(r - '1')
				case r == 'k':
					selected = (selected + len(options) - 1) % len(options)
				case r == 'j':
					selected = (selected + 1) % len(options)
				case r == 'q':
					return -1
				}
			}
		}
	}
}

// confirm asks a yes/no question, defaulting to no.
func confirm(s tcell.Screen, msg string) bool {
	return pickOption(s, msg, "No", "Yes") == 1
}

// promptText shows a single-line editor below the message. Enter
// accepts, Escape cancels.
func promptText(s tcell.Screen, msg, initial string) (string, bool) {
	text := []rune(initial)
	cursor := len(text)
	defer s.HideCursor()
	for {
		y := drawPrompt(s, msg)
		drawString(s, 1, y, "> "+string(text), tcell.StyleDefault)
		s.ShowCursor(3+runewidth.StringWidth(string(text[:cursor])), y)
		s.Show()
		switch ev := s.PollEvent().(type) {
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEnter:
				return string(text), true
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return string(text), false
			case tcell.KeyLeft:
				if cursor > 0 {
					cursor--
				}
			case tcell.KeyRight:
				if cursor < len(text) {
					cursor++
				}
			case tcell.KeyHome, tcell.KeyCtrlA:
				cursor = 0
			case tcell.KeyEnd, tcell.KeyCtrlE:
				cursor = len(text)
			case tcell.KeyBackspace, tcell.KeyBackspace2:
				if cursor > 0 {
					text = append(text[:cursor-1], text[cursor:]...)
					cursor--
				}
			case tcell.KeyDelete:
				if cursor < len(text) {
					text = append(text[:cursor], text[cursor+1:]...)
				}
			case tcell.KeyCtrlU:
				text = text[:0]
				cursor = 0
			case tcell.KeyRune:
				text = append(text[:cursor], append([]rune{ev.Rune()}, text[cursor:]...)...)
				cursor++
			}
		}
	}
}

// wrap greedily breaks prose into lines no wider than width. Words
// wider than a whole line are split mid-word.
func wrap(text string, width int) []string {
	if width <= 0 || runewidth.StringWidth(text) <= width {
		return []string{text}
	}
	var lines []string
	line, lineWidth := "", 0
	flush := func() {
		lines = append(lines, line)
		line, lineWidth = "", 0
	}
	for _, word := range strings.Split(text, " ") {
		for runewidth.StringWidth(word) > width {
			if lineWidth > 0 {
				flush()
			}
			head := runewidth.Truncate(word, width, "")
			lines = append(lines, head)
			word = word[len(head):]
		}
		w := runewidth.StringWidth(word)
		switch {
		case lineWidth == 0:
			line, lineWidth = word, w
		case lineWidth+1+w <= width:
			line += " " + word
			lineWidth += 1 + w
		default:
			flush()
			line, lineWidth = word, w
		}
	}
	flush()
	return lines
}
