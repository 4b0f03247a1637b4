package manifest

// =============================================================================
// Service Ordering Functions
// =============================================================================

// StartOrder sorts services by their dependency edges using Kahn's algorithm.
// Services with no dependencies come first. The result is the declared start
// order only: dependency edges are an ordering hint, not a readiness gate,
// and callers must not wait on a dependency becoming healthy.
//
// The sort is stable with respect to listing order: when several services
// are ready at once, the one listed first comes first.
//
// If a cycle exists (which is caught at parse time), remaining services are
// appended in listing order as a fallback.
//
// Example:
//
//	// Services: fastapi → db
//	services := []Service{
//	    {Name: "db"},
//	    {Name: "fastapi", DependsOn: []string{"db"}},
//	}
//	order := StartOrder(services)
//	// Result: ["db", "fastapi"]
func StartOrder(services []Service) []string {
	if len(services) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)
	docIndex := make(map[string]int, len(services))

	for i, svc := range services {
		docIndex[svc.Name] = i
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Seed the queue in listing order
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	// Process queue (BFS)
	var result []string
	for len(queue) > 0 {
		// Pop the ready service that is listed earliest
		best := 0
		for i := 1; i < len(queue); i++ {
			if docIndex[queue[i]] < docIndex[queue[best]] {
				best = i
			}
		}
		name := queue[best]
		queue = append(queue[:best], queue[best+1:]...)

		result = append(result, name)

		// Reduce in-degree for dependents
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// A cycle left services unprocessed; append them in listing order
	if len(result) < len(services) {
		placed := make(map[string]bool, len(result))
		for _, name := range result {
			placed[name] = true
		}
		for _, svc := range services {
			if !placed[svc.Name] {
				result = append(result, svc.Name)
			}
		}
	}

	return result
}
