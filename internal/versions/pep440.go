package versions

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var rePEP440 = regexp.MustCompile(`^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(a|b|c|rc|alpha|beta|pre|preview)[-_.]?(\d*))?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+[a-z0-9]+(?:[-_.][a-z0-9]+)*)?$`)

const (
	phaseDevOnly = -1
	phaseAlpha   = 0
	phaseBeta    = 1
	phaseRC      = 2
	phaseFinal   = 3
)

// pep440 is a parsed public version. Local labels are ignored for ordering.
type pep440 struct {
	epoch   int
	release []int
	phase   int
	preNum  int
	post    int // -1 when absent
	dev     int // -1 when absent
}

func parsePEP440(v string) (pep440, bool) {
	m := rePEP440.FindStringSubmatch(strings.ToLower(strings.TrimSpace(v)))
	if m == nil {
		return pep440{}, false
	}
	num := func(s string) (int, bool) {
		if s == "" {
			return 0, true
		}
		n, err := strconv.Atoi(s)
		return n, err == nil
	}

	p := pep440{phase: phaseFinal, post: -1, dev: -1}
	ok := true
	if p.epoch, ok = num(m[1]); !ok {
		return pep440{}, false
	}
	for _, part := range strings.Split(m[2], ".") {
		n, ok := num(part)
		if !ok {
			return pep440{}, false
		}
		p.release = append(p.release, n)
	}
	// 1.0 == 1.0.0
	for len(p.release) > 1 && p.release[len(p.release)-1] == 0 {
		p.release = p.release[:len(p.release)-1]
	}

	if m[3] != "" {
		switch m[3] {
		case "a", "alpha":
			p.phase = phaseAlpha
		case "b", "beta":
			p.phase = phaseBeta
		default:
			p.phase = phaseRC
		}
		if p.preNum, ok = num(m[4]); !ok {
			return pep440{}, false
		}
	}
	switch {
	case m[5] != "":
		p.post, ok = num(m[5])
	case m[6] != "":
		p.post, ok = num(m[7])
	}
	if !ok {
		return pep440{}, false
	}
	if m[8] != "" {
		if p.dev, ok = num(m[9]); !ok {
			return pep440{}, false
		}
		if m[3] == "" && p.post < 0 {
			p.phase = phaseDevOnly
		}
	}
	return p, true
}

func (p pep440) compare(o pep440) int {
	if c := cmp.Compare(p.epoch, o.epoch); c != 0 {
		return c
	}
	if c := slices.Compare(p.release, o.release); c != 0 {
		return c
	}
	if c := cmp.Compare(p.phase, o.phase); c != 0 {
		return c
	}
	if c := cmp.Compare(p.preNum, o.preNum); c != 0 {
		return c
	}
	if c := cmp.Compare(p.post, o.post); c != 0 {
		return c
	}
	// a release without .devN sorts after all of its dev releases
	return cmp.Compare(devKey(p.dev), devKey(o.dev))
}

func devKey(dev int) int {
	if dev < 0 {
		return int(^uint(0) >> 1)
	}
	return dev
}

type pep440Comparator struct{}

func (pep440Comparator) Ecosystem() Ecosystem { return PyPI }

func (pep440Comparator) Valid(v string) bool {
	_, ok := parsePEP440(v)
	return ok
}

func (pep440Comparator) Compare(a, b string) int {
	pa, okA := parsePEP440(a)
	pb, okB := parsePEP440(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return pa.compare(pb)
}
