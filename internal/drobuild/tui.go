package drobuild

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// runLogTUI opens an interactive browser over the persisted build logs:
// stage list on the left, scrollable log content on the right.
func runLogTUI() error {
	names := listLogs()
	if len(names) == 0 {
		return fmt.Errorf("no build logs found in %s", LogDir)
	}

	app := tview.NewApplication()

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	logView.SetBorder(true)

	list := tview.NewList().ShowSecondaryText(false)
	list.SetBorder(true)
	list.SetTitle(fmt.Sprintf("drobuild logs (%d)", len(names)))

	show := func(name string) {
		content, err := readLog(name)
		if err != nil {
			content = fmt.Sprintf("error reading log: %v", err)
		}
		logView.SetTitle(name)
		logView.SetText(tview.Escape(content))
		logView.ScrollToBeginning()
	}

	for _, name := range names {
		list.AddItem(name, "", 0, nil)
	}
	list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		show(mainText)
	})
	show(names[0])

	flex := tview.NewFlex().
		AddItem(list, 30, 0, true).
		AddItem(logView, 0, 1, false)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyTab:
			if list.HasFocus() {
				app.SetFocus(logView)
			} else {
				app.SetFocus(list)
			}
			return nil
		}
		if event.Rune() == 'q' && !logView.HasFocus() {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(flex, true).Run()
}
