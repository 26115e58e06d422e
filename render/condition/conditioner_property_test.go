package condition

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/renderflow/testutil"
)

// Property: images already inside the envelope come back untouched.
func TestProperty_InBoundsIsIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	c := New(nil)

	properties.Property("condition returns the original path", prop.ForAll(
		func(h int, ratio float64) bool {
			w := int(float64(h) * ratio)
			if !structureEnvelope.Satisfied(w, h) {
				return true
			}
			src := testutil.WriteImage(t, t.TempDir(), "in.png", w, h)
			res, err := c.Condition(src, structureEnvelope)
			if err != nil {
				t.Logf("condition failed: %v", err)
				return false
			}
			return res.Path == src && !res.Changed()
		},
		gen.IntRange(8, 160),
		gen.Float64Range(0.4, 2.5),
	))

	properties.TestingRun(t)
}

// Property: a crop lands on the nearest bound and keeps the untouched dimension.
func TestProperty_CropHitsBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("wide images keep height and land on max aspect", prop.ForAll(
		func(h int, ratio float64) bool {
			w := int(math.Ceil(float64(h) * ratio))
			r, ok := CropRect(w, h, structureEnvelope)
			if !ok {
				return float64(w)/float64(h) <= structureEnvelope.MaxAspect
			}
			got := float64(r.Dx()) / float64(r.Dy())
			return r.Dy() == h &&
				got <= structureEnvelope.MaxAspect &&
				math.Abs(got-structureEnvelope.MaxAspect) <= 1/float64(h)+1e-9 &&
				r.Min.X >= 0 && r.Max.X <= w
		},
		gen.IntRange(1, 10000),
		gen.Float64Range(2.5, 50),
	))

	properties.Property("tall images keep width and land on min aspect", prop.ForAll(
		func(w int, ratio float64) bool {
			h := int(math.Ceil(float64(w) / ratio))
			r, ok := CropRect(w, h, structureEnvelope)
			if !ok {
				return float64(w)/float64(h) >= structureEnvelope.MinAspect
			}
			got := float64(r.Dx()) / float64(r.Dy())
			return r.Dx() == w &&
				got >= structureEnvelope.MinAspect &&
				math.Abs(float64(w)/structureEnvelope.MinAspect-float64(r.Dy())) < 1+1e-9 &&
				r.Min.Y >= 0 && r.Max.Y <= h
		},
		gen.IntRange(1, 10000),
		gen.Float64Range(0.01, 0.4),
	))

	properties.TestingRun(t)
}

// Property: downscaling respects the pixel budget and preserves aspect ratio.
func TestProperty_DownscaleWithinBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("scaled size fits and keeps ratio", prop.ForAll(
		func(w, h int, budget int64) bool {
			nw, nh, ok := ScaledSize(w, h, budget)
			if !ok {
				return int64(w)*int64(h) <= budget
			}
			if int64(nw)*int64(nh) > budget {
				return false
			}
			// 每个维度截断最多损失两个像素
			want := float64(w) / float64(h)
			got := float64(nw) / float64(nh)
			return math.Abs(got-want) <= 2*(want+1)/float64(nh)
		},
		gen.IntRange(64, 20000),
		gen.IntRange(64, 20000),
		gen.Int64Range(4096, 9437184),
	))

	properties.TestingRun(t)
}

// Property: the end-to-end file path satisfies the envelope after conditioning.
func TestProperty_ConditionedFileSatisfiesEnvelope(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40

	properties := gopter.NewProperties(parameters)
	c := New(nil)
	cons := Constraints{MinAspect: 0.4, MaxAspect: 2.5, MaxPixels: 6000}

	properties.Property("conditioned image fits", prop.ForAll(
		func(w, h int) bool {
			dir := t.TempDir()
			src := testutil.WriteImage(t, dir, fmt.Sprintf("src_%dx%d.png", w, h), w, h)
			res, err := c.Condition(src, cons)
			if err != nil {
				t.Logf("condition failed: %v", err)
				return false
			}
			gw, gh := testutil.ImageSize(t, res.Path)
			if gw != res.Width || gh != res.Height {
				return false
			}
			if res.Changed() && filepath.Dir(res.Path) != dir {
				return false
			}
			ratio := float64(gw) / float64(gh)
			// 缩放后的取整可能让比例略微偏离边界
			return int64(gw)*int64(gh) <= cons.MaxPixels &&
				ratio <= cons.MaxAspect+2*(cons.MaxAspect+1)/float64(gh) &&
				ratio >= cons.MinAspect-2*(cons.MinAspect+1)/float64(gh)
		},
		gen.IntRange(4, 240),
		gen.IntRange(4, 240),
	))

	properties.TestingRun(t)
}
