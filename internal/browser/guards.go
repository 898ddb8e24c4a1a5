package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// guardJS runs before every document loads. It keeps the kiosk page the
// only navigable surface: keyboard shortcuts that would open tabs or
// windows are swallowed, window.open is neutered into same-tab
// navigation, and a fixed banner marks the session as supervised.
const guardJS = `(() => {
	const blockedCombos = (e) => {
		const k = e.key.toLowerCase();
		if ((e.ctrlKey || e.metaKey) && ["t", "n", "w"].includes(k)) return true;
		if ((e.ctrlKey || e.metaKey) && e.shiftKey && ["t", "n", "w"].includes(k)) return true;
		if (e.key === "F11") return true;
		return false;
	};
	window.addEventListener("keydown", (e) => {
		if (blockedCombos(e)) {
			e.preventDefault();
			e.stopImmediatePropagation();
		}
	}, true);

	window.open = (url) => {
		if (url) window.location.href = url;
		return null;
	};

	const addBanner = () => {
		if (document.getElementById("__session_banner")) return;
		const banner = document.createElement("div");
		banner.id = "__session_banner";
		banner.textContent = "Supervised application session - this window is being automated";
		banner.style.cssText = "position:fixed;top:0;left:0;right:0;z-index:2147483647;" +
			"background:#1a1a2e;color:#e0e0e0;font:12px sans-serif;text-align:center;" +
			"padding:4px;pointer-events:none;opacity:0.9";
		document.documentElement.appendChild(banner);
	};
	if (document.readyState === "loading") {
		document.addEventListener("DOMContentLoaded", addBanner);
	} else {
		addBanner();
	}
})()`

// InstallGuards registers the kiosk guard script to run on every new
// document in the session. Must be called once after attaching.
func (d *ChromeDriver) InstallGuards(ctx context.Context) error {
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(guardJS).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to install session guards: %w", err)
	}
	return nil
}
