package main

import (
	"net/url"

	"github.com/gdamore/tcell"
)

type pageAction int

const (
	actionNone pageAction = iota
	actionBack
	actionForward
	actionReload
	actionToggleFavourite
	actionURLBar
	actionHome
)

// viewer displays a document through a scrolling viewport. Rows are
// already wrapped, so the viewport is just a window of row indices;
// the bottom line shows the current location or the selected link.
type viewer struct {
	screen   tcell.Screen
	base     *url.URL
	doc      *document
	top      int // first visible row
	selected int // index into doc.links, or -1
}

func newViewer(s tcell.Screen, base *url.URL, doc *document) *viewer {
	return &viewer{
		screen:   s,
		base:     base,
		doc:      doc,
		selected: -1,
	}
}

func (v *viewer) height() int {
	_, h := v.screen.Size()
	if h > 1 {
		h-- // status line
	}
	return h
}

func (v *viewer) clampTop() {
	if max := len(v.doc.rows) - v.height(); v.top > max {
		v.top = max
	}
	if v.top < 0 {
		v.top = 0
	}
}

func (v *viewer) scroll(by int) {
	v.top += by
	v.clampTop()
}

// selectLink moves the link selection by delta, wrapping around, and
// brings the selected row into view.
func (v *viewer) selectLink(delta int) {
	n := len(v.doc.links)
	if n == 0 {
		return
	}
	if v.selected < 0 {
		if delta >= 0 {
			v.selected = 0
		} else {
			v.selected = n - 1
		}
	} else {
		v.selected = (v.selected + delta + n) % n
	}
	row := v.doc.links[v.selected].row
	if row < v.top {
		v.top = row
	}
	if h := v.height(); row >= v.top+h {
		v.top = row - h + 1
	}
	v.clampTop()
}

func (v *viewer) draw() {
	v.screen.Clear()
	h := v.height()
	for i := 0; i < h; i++ {
		index := v.top + i
		if index >= len(v.doc.rows) {
			break
		}
		r := v.doc.rows[index]
		style := r.style
		if r.link >= 0 && r.link == v.selected {
			style = style.Reverse(true)
		}
		drawString(v.screen, 0, i, r.text, style)
	}
	v.drawStatus()
}

func (v *viewer) drawStatus() {
	_, h := v.screen.Size()
	status := ""
	if v.selected >= 0 && v.selected < len(v.doc.links) {
		status = v.doc.links[v.selected].target
	} else if v.base != nil {
		status = v.base.String()
	}
	drawString(v.screen, 0, h-1, status, tcell.StyleDefault.Reverse(true))
}

// show runs the viewer until the user follows a link or triggers a
// navigation action.
func (v *viewer) show() (follow *url.URL, action pageAction, err error) {
	v.draw()
	v.screen.Sync()
	for {
		switch ev := v.screen.PollEvent().(type) {
		case *tcell.EventResize:
			v.clampTop()
			v.screen.Sync()
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape:
				return nil, actionURLBar, nil
			case tcell.KeyEnter:
				if v.selected >= 0 {
					follow, err = resolveLink(v.doc.links[v.selected], v.base)
					return follow, actionNone, err
				}
			case tcell.KeyUp:
				v.scroll(-1)
			case tcell.KeyDown:
				v.scroll(1)
			case tcell.KeyPgUp:
				v.scroll(-v.height())
			case tcell.KeyPgDn:
				v.scroll(v.height())
			case tcell.KeyHome:
				v.top = 0
			case tcell.KeyEnd:
				v.top = len(v.doc.rows)
				v.clampTop()
			case tcell.KeyTab:
				v.selectLink(1)
			case tcell.KeyBacktab:
				v.selectLink(-1)
			case tcell.KeyLeft:
				return nil, actionBack, nil
			case tcell.KeyRight:
				return nil, actionForward, nil
			case tcell.KeyRune:
				switch ev.Rune() {
				case 'j':
					v.scroll(1)
				case 'k':
					v.scroll(-1)
				case ' ':
					v.scroll(v.height())
				case 'b':
					v.scroll(-v.height())
				case 'g':
					v.top = 0
				case 'G':
					v.top = len(v.doc.rows)
					v.clampTop()
				case 'n':
					v.selectLink(1)
				case 'p':
					v.selectLink(-1)
				case '<':
					return nil, actionBack, nil
				case '>':
					return nil, actionForward, nil
				case 'r':
					return nil, actionReload, nil
				case 'f':
					return nil, actionToggleFavourite, nil
				case 'u':
					return nil, actionURLBar, nil
				case 'q':
					return nil, actionHome, nil
				}
			}
		}
		v.draw()
		v.screen.Show()
	}
}
