package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// snapshotJS collects every interactive element with live layout data and
// a CSS path stable for the lifetime of the snapshot. The script is
// strictly read-only: it never scrolls, focuses, or mutates the page.
const snapshotJS = `(() => {
	const selector = "input, textarea, select, button, [role=combobox], [role=listbox], [role=radio], [role=checkbox], [contenteditable=true]";

	const cssPath = (el) => {
		const parts = [];
		let node = el;
		while (node && node.nodeType === Node.ELEMENT_NODE && node.tagName !== "HTML") {
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const sameTag = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (sameTag.length > 1) {
					part += ":nth-of-type(" + (sameTag.indexOf(node) + 1) + ")";
				}
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(" > ");
	};

	const labelledByText = (el) => {
		const ids = (el.getAttribute("aria-labelledby") || "").split(/\s+/).filter(Boolean);
		return ids
			.map(id => { const t = document.getElementById(id); return t ? t.textContent.trim() : ""; })
			.filter(Boolean)
			.join(" ");
	};

	const containerClass = (el) => {
		const tokens = [];
		let node = el.parentElement;
		for (let depth = 0; node && depth < 4; depth++) {
			if (node.className && typeof node.className === "string") {
				tokens.push(...node.className.split(/\s+/).filter(Boolean));
			}
			node = node.parentElement;
		}
		return tokens.join(" ");
	};

	const legendText = (el) => {
		const fs = el.closest("fieldset");
		if (!fs) return "";
		const legend = fs.querySelector("legend");
		return legend ? legend.textContent.trim() : "";
	};

	const ownText = (el) => {
		const wrapper = el.closest("label");
		if (wrapper) return wrapper.textContent.trim();
		if (el.tagName === "BUTTON") return el.textContent.trim();
		return "";
	};

	const out = [];
	for (const el of document.querySelectorAll(selector)) {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== "none" && style.visibility !== "hidden";
		const parent = el.parentElement;
		const siblingButtons = parent
			? Array.from(parent.children).filter(c => c.tagName === "BUTTON" || c.getAttribute("role") === "button").length
			: 0;
		out.push({
			path: cssPath(el),
			tag: el.tagName.toLowerCase(),
			type: (el.getAttribute("type") || "").toLowerCase(),
			id: el.id || "",
			name: el.getAttribute("name") || "",
			ariaLabel: el.getAttribute("aria-label") || "",
			ariaLabelledBy: labelledByText(el),
			role: el.getAttribute("role") || "",
			hasPopup: el.getAttribute("aria-haspopup") === "listbox" || el.getAttribute("aria-haspopup") === "true",
			placeholder: el.getAttribute("placeholder") || "",
			required: el.required === true || el.getAttribute("aria-required") === "true",
			value: (el.value !== undefined ? String(el.value) : ""),
			checked: el.checked === true || el.getAttribute("aria-checked") === "true",
			visible: visible,
			width: rect.width,
			height: rect.height,
			containerClass: containerClass(el),
			legendText: legendText(el),
			ownText: ownText(el),
			siblingButtons: siblingButtons
		});
	}
	return out;
})()`

// Snapshot captures the current page: its URL, serialized DOM, and live
// layout data for every interactive element.
func (d *ChromeDriver) Snapshot(ctx context.Context) (*interfaces.PageSnapshot, error) {
	var url, html string
	var elements []models.ElementInfo

	if err := d.run(ctx,
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(snapshotJS, &elements),
	); err != nil {
		return nil, fmt.Errorf("page snapshot failed: %w", err)
	}

	return &interfaces.PageSnapshot{
		URL:      url,
		HTML:     html,
		Elements: elements,
	}, nil
}
