package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsStrings(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// imagesJS collects, per <img> under root, the candidate URL attributes in
// priority order. Selection happens in Go.
const imagesJS = `function __imgs(root) {
	if (!root) return [];
	return Array.from(root.querySelectorAll('img')).map(img =>
		['src', 'data-src', 'data-original', 'data-lazy-src'].map(a => img.getAttribute(a) || ''));
}`

func probeScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	const visible = el => !!el && el.getClientRects().length > 0 &&
		getComputedStyle(el).visibility !== 'hidden';
	const challenge = %s.some(s => visible(document.querySelector(s)));
	return {
		bodyPresent: document.querySelector(%s) !== null,
		nextPresent: document.querySelector(%s) !== null,
		bodyText: document.body ? document.body.innerText : '',
		source: document.documentElement ? document.documentElement.outerHTML : '',
		challengeVisible: challenge,
	};
})()`, jsStrings(sel.Challenge), jsString(sel.RecordBody), jsString(sel.NextButton))
}

func presenceScript(selectors ...string) string {
	checks := make([]string, 0, len(selectors))
	for _, s := range selectors {
		checks = append(checks, fmt.Sprintf("document.querySelector(%s) !== null", jsString(s)))
	}
	return "[" + strings.Join(checks, ", ") + "]"
}

func quickIDScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s) || document.querySelector(%s);
	return el ? el.innerText : '';
})()`, jsString(sel.RecordID), jsString(sel.RecordIDFallback))
}

func extractScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	%s
	const q = s => document.querySelector(s);
	const text = el => el ? el.innerText.trim() : '';
	const idEl = q(%s) || q(%s);
	const body = q(%s);
	const options = Array.from(document.querySelectorAll(%s)).map(li => {
		const t = li.querySelector(%s);
		return { letter: text(li.querySelector(%s)), text: text(t), images: __imgs(t) };
	});
	const correct = q(%s);
	return {
		id: text(idEl),
		subject: text(q(%s)),
		topic: text(q(%s)),
		contest: text(q(%s)),
		statement: text(body),
		statementImages: __imgs(body),
		options: options,
		answerKey: text(q(%s)),
		correctOption: correct ? text(correct.querySelector(%s)) : '',
	};
})()`, imagesJS,
		jsString(sel.RecordID), jsString(sel.RecordIDFallback),
		jsString(sel.RecordBody),
		jsString(sel.Options), jsString(sel.OptionText), jsString(sel.OptionLetter),
		jsString(sel.CorrectOption),
		jsString(sel.Subject), jsString(sel.Topic), jsString(sel.Contest),
		jsString(sel.AnswerKey), jsString(sel.OptionLetter))
}

func commentScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	%s
	const el = document.querySelector(%s);
	return el ? { found: true, text: el.innerText.trim(), images: __imgs(el) } : { found: false, text: '', images: [] };
})()`, imagesJS, jsString(sel.Comment))
}

func detailsScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	const root = document.querySelector(%s);
	if (!root) return [];
	const text = el => el ? el.innerText.trim() : '';
	const out = [];
	root.querySelectorAll(%s).forEach(item => {
		if (item.classList.contains(%s)) {
			Array.from(item.children).forEach(sub => {
				out.push({ title: text(sub.querySelector(%s)), value: text(sub.querySelector(%s)), composite: false });
			});
			return;
		}
		const composite = item.querySelector(%s);
		out.push({
			title: text(item.querySelector(%s)),
			value: text(composite || item.querySelector(%s)),
			composite: !!composite,
		});
	});
	return out;
})()`, jsString(sel.Details), jsString(sel.DetailItem), jsString(sel.DetailItemMultiClass),
		jsString(sel.DetailTitle), jsString(sel.DetailValue),
		jsString(sel.DetailCompositeValue), jsString(sel.DetailTitle), jsString(sel.DetailValue))
}

// overlayScript removes matching overlays, keeps removing new ones through a
// MutationObserver, and replaces the dialog library's entry points.
func overlayScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
	const selectors = %s;
	const global = %s;
	if (global && typeof window[global] !== 'undefined') {
		['alert', 'confirm', 'prompt', 'notify', 'message', 'success', 'error', 'warning']
			.forEach(m => { window[global][m] = function () { return false; }; });
	}
	const joined = selectors.join(',');
	if (!joined) return 0;
	let removed = 0;
	document.querySelectorAll(joined).forEach(el => { el.remove(); removed++; });
	if (!window.__harvesterOverlayObserver && document.body) {
		window.__harvesterOverlayObserver = new MutationObserver(muts => muts.forEach(m =>
			m.addedNodes.forEach(n => { if (n.nodeType === 1 && n.matches && n.matches(joined)) n.remove(); })));
		window.__harvesterOverlayObserver.observe(document.body, { childList: true, subtree: true });
	}
	return removed;
})()`, jsStrings(sel.Overlays), jsString(sel.OverlayGlobal))
}

func centerScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return { found: false, x: 0, y: 0 };
	const r = el.getBoundingClientRect();
	return { found: true, x: r.left + r.width / 2, y: r.top + r.height / 2 };
})()`, jsString(selector))
}

func titleScript(title string) string {
	return fmt.Sprintf("document.title = %s", jsString(title))
}

const viewportScript = `({ width: window.innerWidth, height: window.innerHeight })`
