// Package textnorm converts mathematical and scientific notation in
// narration text to spoken English so TTS reads "$x^2$" as "x squared"
// rather than "dollar x caret two dollar". It is applied to task text
// before synthesis.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	inlineMathRegex = regexp.MustCompile(`\$([^$]+)\$`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	fracRegex      = regexp.MustCompile(`\\frac\s*\{([^}]+)\}\s*\{([^}]+)\}`)
	powerBraceRe   = regexp.MustCompile(`([a-zA-Z0-9]+)\s*\^\s*\{([^}]+)\}`)
	powerBareRe    = regexp.MustCompile(`([a-zA-Z0-9]+)\s*\^\s*([0-9])`)
	sqrtRegex      = regexp.MustCompile(`\\sqrt\s*\{([^}]+)\}`)
	latexArgRegex  = regexp.MustCompile(`\\[a-zA-Z]+\s*\{([^}]*)\}`)
	latexCmdRegex  = regexp.MustCompile(`\\[a-zA-Z]+`)
	braceRegex     = regexp.MustCompile(`[{}]`)
	beginEndRegex  = regexp.MustCompile(`\\(?:begin|end)\{[^}]+\}`)
	displayOpenRe  = regexp.MustCompile(`\\\[`)
	displayCloseRe = regexp.MustCompile(`\\\]`)

	plusBetweenRe   = regexp.MustCompile(`([a-zA-Z0-9])\+([a-zA-Z0-9])`)
	minusBetweenRe  = regexp.MustCompile(`([a-zA-Z0-9])\-([a-zA-Z0-9])`)
	equalsBetweenRe = regexp.MustCompile(`([a-zA-Z0-9])=([a-zA-Z0-9])`)
	equalsRegex     = regexp.MustCompile(`\s*=\s*`)
	plusRegex       = regexp.MustCompile(`\s*\+\s*`)

	// Go has no lookahead; the optional trailing digit group stands in for
	// Python-style (?![0-9]) by letting the callback reject the match.
	powerShortRegex = regexp.MustCompile(`([a-zA-Z])([23])([0-9])?`)

	dydxRegex = regexp.MustCompile(`\bdydx\b`)
	ddxRegex  = regexp.MustCompile(`\bddx\b`)

	digitLetterRegex = regexp.MustCompile(`(\d)([a-zA-Z])`)
	numberRegex      = regexp.MustCompile(`\d+`)
)

// unicodeReplacements maps copy-pasted math symbols to speech, applied in order.
var unicodeReplacements = []struct{ from, to string }{
	{"−", "-"},
	{"±", " plus or minus "},
	{"×", " times "},
	{"÷", " divided by "},
	{"≤", " less than or equal to "},
	{"≥", " greater than or equal to "},
	{"≠", " not equal to "},
	{"≈", " approximately "},
	{"≡", " equivalent to "},
	{"∞", " infinity "},
	{"∫", " integral of "},
	{"√", " square root of "},
}

var greekRunes = []struct{ from, to string }{
	{"α", "alpha"}, {"β", "beta"}, {"γ", "gamma"}, {"δ", "delta"},
	{"ε", "epsilon"}, {"θ", "theta"}, {"λ", "lambda"}, {"μ", "mu"},
	{"π", "pi"}, {"σ", "sigma"}, {"ω", "omega"}, {"φ", "phi"},
	{"ψ", "psi"}, {"ρ", "rho"}, {"τ", "tau"},
	{"Δ", "Delta"}, {"Σ", "Sigma"}, {"Ω", "Omega"},
}

var greekCommands = []struct{ from, to string }{
	{`\alpha`, "alpha"}, {`\beta`, "beta"}, {`\gamma`, "gamma"},
	{`\delta`, "delta"}, {`\epsilon`, "epsilon"}, {`\theta`, "theta"},
	{`\lambda`, "lambda"}, {`\mu`, "mu"}, {`\pi`, "pi"},
	{`\sigma`, "sigma"}, {`\omega`, "omega"}, {`\phi`, "phi"},
	{`\psi`, "psi"}, {`\rho`, "rho"}, {`\tau`, "tau"},
	{`\eta`, "eta"}, {`\zeta`, "zeta"}, {`\nu`, "nu"},
	{`\xi`, "xi"}, {`\chi`, "chi"},
	{`\Delta`, "Delta"}, {`\Sigma`, "Sigma"}, {`\Pi`, "Pi"},
	{`\Omega`, "Omega"},
}

// mathCommands is order-sensitive: \infty must precede \int so the shorter
// command never matches inside the longer one.
var mathCommands = []struct{ from, to string }{
	{`\times`, " times "},
	{`\cdot`, " times "},
	{`\div`, " divided by "},
	{`\pm`, " plus or minus "},
	{`\mp`, " minus or plus "},
	{`\leq`, " less than or equal to "},
	{`\geq`, " greater than or equal to "},
	{`\neq`, " not equal to "},
	{`\approx`, " approximately "},
	{`\equiv`, " is equivalent to "},
	{`\infty`, " infinity "},
	{`\sum`, "sum of "},
	{`\prod`, "product of "},
	{`\int`, "integral of "},
	{`\partial`, "partial "},
	{`\nabla`, "del "},
	{`\rightarrow`, " goes to "},
	{`\leftarrow`, " from "},
	{`\Rightarrow`, " implies "},
	{`\therefore`, "therefore "},
	{`\degree`, " degrees"},
	{`\circ`, " degrees"},
}

var commonFractions = []struct {
	re     *regexp.Regexp
	spoken string
}{
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{2\}`), "one half"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{3\}`), "one third"},
	{regexp.MustCompile(`(?i)\\frac\s*\{2\}\s*\{3\}`), "two thirds"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{4\}`), "one quarter"},
	{regexp.MustCompile(`(?i)\\frac\s*\{3\}\s*\{4\}`), "three quarters"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{5\}`), "one fifth"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{6\}`), "one sixth"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{8\}`), "one eighth"},
	{regexp.MustCompile(`(?i)\\frac\s*\{1\}\s*\{10\}`), "one tenth"},
}

// Normalize converts math and scientific notation in text to spoken English.
// The passes run in a fixed order: inline $...$ math, plain-text math
// (Unicode symbols, Greek, operators, short powers), LaTeX artifact cleanup,
// number-to-words, whitespace collapse.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	result := text
	result = convertInlineMath(result)
	result = handlePlainTextMath(result)
	result = cleanRemainingLatex(result)
	result = handleNumbers(result)
	result = whitespaceRegex.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

func convertInlineMath(text string) string {
	return inlineMathRegex.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineMathRegex.FindStringSubmatch(m)
		return latexToWords(sub[1])
	})
}

func handlePlainTextMath(text string) string {
	result := text

	for _, r := range unicodeReplacements {
		result = strings.ReplaceAll(result, r.from, r.to)
	}
	for _, g := range greekRunes {
		result = strings.ReplaceAll(result, g.from, " "+g.to+" ")
	}

	result = plusBetweenRe.ReplaceAllString(result, "$1 plus $2")
	result = minusBetweenRe.ReplaceAllString(result, "$1 minus $2")
	result = equalsBetweenRe.ReplaceAllString(result, "$1 equals $2")

	result = equalsRegex.ReplaceAllString(result, " equals ")
	result = plusRegex.ReplaceAllString(result, " plus ")

	// x2 -> "x squared", a3 -> "a cubed"; a trailing digit means the 2/3 is
	// part of a larger number and the match is left alone.
	result = powerShortRegex.ReplaceAllStringFunc(result, func(m string) string {
		sub := powerShortRegex.FindStringSubmatch(m)
		if sub[3] != "" {
			return m
		}
		if sub[2] == "2" {
			return sub[1] + " squared"
		}
		return sub[1] + " cubed"
	})

	result = dydxRegex.ReplaceAllString(result, "dy by dx")
	result = ddxRegex.ReplaceAllString(result, "d by dx")

	return result
}

func handleNumbers(text string) string {
	// Separate digits from trailing letters first (2x -> 2 x) so the words
	// read "two x" rather than "twox".
	result := digitLetterRegex.ReplaceAllString(text, "$1 $2")

	return numberRegex.ReplaceAllStringFunc(result, func(m string) string {
		n, err := strconv.Atoi(m)
		if err != nil {
			return m
		}
		return numberToWords(n)
	})
}

var (
	numberUnits = []string{"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}
	numberTeens = []string{"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	numberTens  = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
)

func numberToWords(n int) string {
	switch {
	case n == 0:
		return "zero"
	case n < 10:
		return numberUnits[n]
	case n < 20:
		return numberTeens[n-10]
	case n < 100:
		if n%10 != 0 {
			return numberTens[n/10] + "-" + numberUnits[n%10]
		}
		return numberTens[n/10]
	case n < 1000:
		if n%100 != 0 {
			return numberUnits[n/100] + " hundred " + numberToWords(n%100)
		}
		return numberUnits[n/100] + " hundred"
	case n < 1000000:
		if n%1000 != 0 {
			return numberToWords(n/1000) + " thousand " + numberToWords(n%1000)
		}
		return numberToWords(n/1000) + " thousand"
	default:
		// Very large numbers read better as digits.
		return strconv.Itoa(n)
	}
}

// latexToWords converts one LaTeX expression to spoken words. Fractions,
// powers and roots recurse so nested expressions stay speakable.
func latexToWords(latex string) string {
	result := strings.TrimSpace(latex)

	for _, f := range commonFractions {
		result = f.re.ReplaceAllString(result, f.spoken)
	}

	result = fracRegex.ReplaceAllStringFunc(result, func(m string) string {
		sub := fracRegex.FindStringSubmatch(m)
		return latexToWords(sub[1]) + " over " + latexToWords(sub[2])
	})

	powerReplace := func(re *regexp.Regexp) func(string) string {
		return func(m string) string {
			sub := re.FindStringSubmatch(m)
			base := strings.TrimSpace(sub[1])
			exp := strings.TrimSpace(sub[2])
			if strings.Contains(base, `\`) {
				base = latexToWords(base)
			}
			switch exp {
			case "2":
				return base + " squared"
			case "3":
				return base + " cubed"
			}
			if strings.Contains(exp, `\`) {
				exp = latexToWords(exp)
			}
			return base + " to the power of " + exp
		}
	}
	result = powerBraceRe.ReplaceAllStringFunc(result, powerReplace(powerBraceRe))
	result = powerBareRe.ReplaceAllStringFunc(result, powerReplace(powerBareRe))

	result = sqrtRegex.ReplaceAllStringFunc(result, func(m string) string {
		sub := sqrtRegex.FindStringSubmatch(m)
		content := strings.TrimSpace(sub[1])
		if strings.Contains(content, `\`) {
			content = latexToWords(content)
		}
		return "square root of " + content
	})

	for _, g := range greekCommands {
		result = strings.ReplaceAll(result, g.from, g.to)
	}
	for _, c := range mathCommands {
		result = strings.ReplaceAll(result, c.from, c.to)
	}

	result = strings.ReplaceAll(result, "=", " equals ")
	result = strings.ReplaceAll(result, "+", " plus ")
	result = strings.ReplaceAll(result, "-", " minus ")
	result = strings.ReplaceAll(result, "*", " times ")
	result = strings.ReplaceAll(result, "/", " over ")
	result = strings.ReplaceAll(result, "<", " less than ")
	result = strings.ReplaceAll(result, ">", " greater than ")

	result = latexCmdRegex.ReplaceAllString(result, "")
	result = braceRegex.ReplaceAllString(result, "")

	return strings.TrimSpace(result)
}

func cleanRemainingLatex(text string) string {
	result := displayOpenRe.ReplaceAllString(text, "")
	result = displayCloseRe.ReplaceAllString(result, "")
	result = beginEndRegex.ReplaceAllString(result, "")
	result = latexArgRegex.ReplaceAllString(result, "$1")
	result = latexCmdRegex.ReplaceAllString(result, "")
	result = braceRegex.ReplaceAllString(result, "")
	return result
}
