package nodes

// PlatformDefaults returns the set of commands allowed for a platform
// family: a universal baseline, plus desktop- or mobile-specific
// extras.
func PlatformDefaults(platform string) map[string]struct{} {
	defaults := map[string]struct{}{
		"device.info":     {},
		"device.status":   {},
		"canvas.present":  {},
		"canvas.hide":     {},
		"canvas.navigate": {},
		"canvas.eval":     {},
		"canvas.snapshot": {},
	}

	switch platform {
	case "darwin", "linux", "windows":
		for _, c := range []string{"system.run", "system.which", "system.notify", "browser.proxy"} {
			defaults[c] = struct{}{}
		}
	case "ios", "android":
		for _, c := range []string{"camera.list", "camera.snap", "location.get", "contacts.search", "calendar.events", "photos.latest"} {
			defaults[c] = struct{}{}
		}
	}

	return defaults
}

// IsCommandAllowed reports whether command may be invoked on a node of
// the given platform: it must be in the platform's default set, in the
// node's declared commands, and not in the deny list.
func IsCommandAllowed(platform string, declared []string, deny map[string]struct{}, command string) bool {
	defaults := PlatformDefaults(platform)
	if _, ok := defaults[command]; !ok {
		return false
	}

	declaredOK := false
	for _, c := range declared {
		if c == command {
			declaredOK = true
			break
		}
	}
	if !declaredOK {
		return false
	}

	if deny != nil {
		if _, denied := deny[command]; denied {
			return false
		}
	}

	return true
}
