package surface

import (
	"math"
	"sort"
)

// point2 is a triangulation site.
type point2 struct {
	X, Y float64
}

// triangle holds site indices in counter-clockwise order.
type triangle struct {
	A, B, C int
}

// edge is directed: it belongs to the triangle that traverses A then B.
type edge struct {
	A, B int
}

// triangulate returns the Delaunay triangulation of pts. pts must not
// contain duplicates. Fewer than three sites, or all sites on one line,
// yield no triangles.
//
// Sites are swept in (X, Y) order, each new site joined to every hull edge
// it can see, which triangulates the whole convex hull. Lawson edge flips
// then make the triangulation Delaunay without changing its outline.
func triangulate(pts []point2) []triangle {
	n := len(pts)
	if n < 3 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := pts[order[i]], pts[order[j]]
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	// leading run of collinear sites
	k := 2
	for k < n && orient(pts[order[0]], pts[order[1]], pts[order[k]]) == 0 {
		k++
	}
	if k == n {
		return nil
	}

	q := order[k]
	tris := make([]triangle, 0, 2*n)
	hull := make([]int, 0, n)
	if orient(pts[order[0]], pts[order[k-1]], pts[q]) > 0 {
		for i := 0; i+1 < k; i++ {
			tris = append(tris, triangle{order[i], order[i+1], q})
		}
		hull = append(hull, order[:k]...)
	} else {
		for i := 0; i+1 < k; i++ {
			tris = append(tris, triangle{order[i+1], order[i], q})
		}
		for i := k - 1; i >= 0; i-- {
			hull = append(hull, order[i])
		}
	}
	hull = append(hull, q)

	for _, p := range order[k+1:] {
		tris, hull = attach(pts, tris, hull, p)
	}

	return legalize(pts, tris)
}

// attach joins p, which lies outside the current hull, to every hull edge
// it sees and returns the grown triangle set and hull.
func attach(pts []point2, tris []triangle, hull []int, p int) ([]triangle, []int) {
	m := len(hull)
	visible := make([]bool, m)
	for i := 0; i < m; i++ {
		a, b := hull[i], hull[(i+1)%m]
		if orient(pts[a], pts[b], pts[p]) < 0 {
			visible[i] = true
			tris = append(tris, triangle{b, a, p})
		}
	}

	// the visible edges form one run; keep its two end vertices
	start := -1
	for i := 0; i < m; i++ {
		if visible[i] && !visible[(i+m-1)%m] {
			start = i
			break
		}
	}
	if start < 0 {
		return tris, hull
	}
	end := start
	for visible[end%m] {
		end++
	}

	next := make([]int, 0, m+1)
	for i := end; ; i++ {
		next = append(next, hull[i%m])
		if i%m == start {
			break
		}
	}
	return tris, append(next, p)
}

// legalize flips every interior edge whose opposite vertex lies inside the
// circumcircle of its neighbour until none remains.
func legalize(pts []point2, tris []triangle) []triangle {
	owner := make(map[edge]int, 3*len(tris))
	for i, t := range tris {
		for _, e := range t.edges() {
			owner[e] = i
		}
	}

	stack := make([]edge, 0, len(owner))
	for e := range owner {
		stack = append(stack, e)
	}

	// cocircular sites are rejected by the tolerance; the cap only guards
	// against rounding loops
	budget := 4*len(pts)*len(pts) + 64
	for len(stack) > 0 && budget > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t1, ok := owner[e]
		if !ok {
			continue
		}
		t2, ok := owner[edge{e.B, e.A}]
		if !ok {
			continue
		}
		a, b := e.A, e.B
		c := tris[t1].opposite(a, b)
		d := tris[t2].opposite(a, b)
		if !flipNeeded(pts[a], pts[b], pts[c], pts[d]) {
			continue
		}
		budget--

		for _, old := range [2]int{t1, t2} {
			for _, oe := range tris[old].edges() {
				delete(owner, oe)
			}
		}
		tris[t1] = triangle{a, d, c}
		tris[t2] = triangle{d, b, c}
		for _, nt := range [2]int{t1, t2} {
			for _, ne := range tris[nt].edges() {
				owner[ne] = nt
			}
		}
		stack = append(stack, edge{a, d}, edge{d, b}, edge{b, c}, edge{c, a})
	}
	return tris
}

func (t triangle) edges() [3]edge {
	return [3]edge{{t.A, t.B}, {t.B, t.C}, {t.C, t.A}}
}

// opposite returns the vertex of t that is neither a nor b.
func (t triangle) opposite(a, b int) int {
	switch {
	case t.A != a && t.A != b:
		return t.A
	case t.B != a && t.B != b:
		return t.B
	}
	return t.C
}

// orient is twice the signed area of abc; positive when counter-clockwise.
func orient(a, b, c point2) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// inCircumcircle reports whether d lies strictly inside the circumcircle of
// the counter-clockwise triangle abc.
func inCircumcircle(a, b, c, d point2) bool {
	det, _ := incircle(a, b, c, d)
	return det > 0
}

// flipNeeded is inCircumcircle with a relative tolerance, so that
// cocircular quads keep their current diagonal.
func flipNeeded(a, b, c, d point2) bool {
	det, mag := incircle(a, b, c, d)
	return det > 1e-12*mag
}

// incircle returns the in-circle determinant and the sum of the magnitudes
// of its terms.
func incircle(a, b, c, d point2) (det, mag float64) {
	adx, ady := a.X-d.X, a.Y-d.Y
	bdx, bdy := b.X-d.X, b.Y-d.Y
	cdx, cdy := c.X-d.X, c.Y-d.Y

	ad := adx*adx + ady*ady
	bd := bdx*bdx + bdy*bdy
	cd := cdx*cdx + cdy*cdy

	t1 := adx * (bdy*cd - bd*cdy)
	t2 := ady * (bdx*cd - bd*cdx)
	t3 := ad * (bdx*cdy - bdy*cdx)
	mag = math.Abs(adx)*(math.Abs(bdy*cd)+math.Abs(bd*cdy)) +
		math.Abs(ady)*(math.Abs(bdx*cd)+math.Abs(bd*cdx)) +
		ad*(math.Abs(bdx*cdy)+math.Abs(bdy*cdx))
	return t1 - t2 + t3, mag
}

// barycentric returns the weights of p relative to triangle abc. ok is false
// when p lies outside the triangle by more than a rounding margin.
func barycentric(a, b, c, p point2) (wa, wb, wc float64, ok bool) {
	det := orient(a, b, c)
	if det == 0 {
		return 0, 0, 0, false
	}
	wa = orient(p, b, c) / det
	wb = orient(a, p, c) / det
	wc = 1 - wa - wb

	const eps = 1e-10
	if wa < -eps || wb < -eps || wc < -eps {
		return 0, 0, 0, false
	}
	return wa, wb, wc, true
}
