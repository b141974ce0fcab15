package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/MichaelMauderer/Gazer/auth"
)

// manageTrackers handles the tracker flags. It reports whether any of them
// was given, in which case the viewer should not start.
func manageTrackers(svc *auth.Service, out io.Writer, add, remove string, list bool) (bool, error) {
	handled := false
	if add != "" {
		handled = true
		name, secret, ok := strings.Cut(add, ":")
		if !ok {
			return true, fmt.Errorf("-add-tracker wants name:secret")
		}
		if err := svc.Register(name, secret); err != nil {
			return true, fmt.Errorf("failed to register tracker %q: %w", name, err)
		}
		fmt.Fprintf(out, "Registered tracker %s\n", name)
	}
	if remove != "" {
		handled = true
		if err := svc.DeleteTracker(remove); err != nil {
			return true, fmt.Errorf("failed to remove tracker %q: %w", remove, err)
		}
		fmt.Fprintf(out, "Removed tracker %s\n", remove)
	}
	if list {
		handled = true
		trackers, err := svc.ListTrackers()
		if err != nil {
			return true, err
		}
		if len(trackers) == 0 {
			fmt.Fprintln(out, "No trackers registered")
		}
		for _, t := range trackers {
			fmt.Fprintln(out, t.Name)
		}
	}
	return handled, nil
}
