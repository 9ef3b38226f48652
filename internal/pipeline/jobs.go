package pipeline

import (
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

// IndexJobs returns one metadata job per listed package whose normalised
// name falls in key. Listing entries that normalise to the same name yield a
// single job; the first spelling wins.
func IndexJobs(listed []crawler.ListedPackage, key store.BucketKey) []crawler.Job {
	seen := make(map[string]struct{})
	var jobs []crawler.Job
	for _, p := range listed {
		name := crawler.NormalizeName(p.Name)
		if name == "" || store.BucketOf(name) != key {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		jobs = append(jobs, crawler.Job{Kind: crawler.JobKindMetadata, Name: p.Name})
	}
	sortJobs(jobs)
	return jobs
}

// ArtifactURLFunc builds the download URL of a wheel.
type ArtifactURLFunc func(name, pyver, filename string) string

// WheelJobs returns one wheel job per wheel listed in the index bucket that
// has no result on file in the deps store yet.
func WheelJobs(
	index *store.Store[crawler.PackageRecord],
	deps *store.Store[crawler.DepsRecord],
	key store.BucketKey,
	artifactURL ArtifactURLFunc,
) []crawler.Job {
	var jobs []crawler.Job
	for _, name := range index.KeysInBucket(key) {
		rec, _ := index.Get(name)
		known, _ := deps.Get(name)
		for _, version := range sortedKeys(rec) {
			wheels := rec[version].Wheels
			for _, filename := range sortedKeys(wheels) {
				pyver := wheels[filename].PyVer
				if known.Has(pyver, version, filename) {
					continue
				}
				jobs = append(jobs, crawler.Job{
					Kind:     crawler.JobKindWheel,
					Name:     name,
					Version:  version,
					Filename: filename,
					PyVer:    pyver,
					URL:      artifactURL(name, pyver, filename),
				})
			}
		}
	}
	return jobs
}

// Shuffle randomises job order in place so parallel workers do not hammer
// one package's files at the same time.
func Shuffle(rng *rand.Rand, jobs []crawler.Job) {
	rng.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
}

// newRand returns a seeded source, or a random one for seed 0.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed))
}

func compareJobs(a, b crawler.Job) int {
	if c := strings.Compare(a.Key(), b.Key()); c != 0 {
		return c
	}
	if c := strings.Compare(a.Version, b.Version); c != 0 {
		return c
	}
	return strings.Compare(a.Filename, b.Filename)
}

func sortJobs(jobs []crawler.Job) {
	slices.SortFunc(jobs, compareJobs)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
