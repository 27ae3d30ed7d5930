package routing

import "testing"

func TestClassify(t *testing.T) {
	policy := NewPolicy("")

	testCases := []struct {
		path string
		want Class
	}{
		{"/", ClassStaticAsset},
		{"/index.html", ClassStaticAsset},
		{"/app.js", ClassStaticAsset},
		{"/digests/2024-05-01.json", ClassDynamicData},
		{"/digests/2024-05-01.mp3", ClassDynamicData},
		{"/archive/digests/latest.json", ClassDynamicData},
		{"/digests", ClassStaticAsset},
		{"/digestsx/file.json", ClassStaticAsset},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			if got := policy.Classify(tc.path); got != tc.want {
				t.Fatalf("classify(%s) = %s, want %s", tc.path, got, tc.want)
			}
		})
	}
}

func TestCustomSegment(t *testing.T) {
	policy := NewPolicy("/episodes/")
	if policy.Classify("/digests/a.json") != ClassStaticAsset {
		t.Fatalf("default segment should not apply once overridden")
	}
	if policy.Classify("/episodes/a.json") != ClassDynamicData {
		t.Fatalf("custom segment should classify as dynamic")
	}
}

func TestRouteMapsStrategies(t *testing.T) {
	policy := NewPolicy(DefaultDynamicSegment)

	if class, strategy := policy.Route("/digests/today.json"); class != ClassDynamicData || strategy != StrategyNetworkFirst {
		t.Fatalf("dynamic data should use network-first, got %s/%s", class, strategy)
	}
	if class, strategy := policy.Route("/style.css"); class != ClassStaticAsset || strategy != StrategyCacheFirst {
		t.Fatalf("static asset should use cache-first, got %s/%s", class, strategy)
	}
}
