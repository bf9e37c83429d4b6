// Package detector talks to the YOLO inference server and applies the
// local detection policy: thresholds, class allow-list, and intrusion
// classification.
package detector

import "github.com/vigilcam/ids-server/pkg/types"

// humanClass and animalClasses partition detection classes into the
// intrusion categories. Anything else counts as an object.
const humanClass = "person"

var animalClasses = map[string]struct{}{
	"dog":  {},
	"cat":  {},
	"bird": {},
}

// Classify maps a set of detections to an intrusion category. More than
// one matching category yields IntrusionMultiple; an empty set yields
// IntrusionNone.
func Classify(detections []types.Detection) types.IntrusionType {
	if len(detections) == 0 {
		return types.IntrusionNone
	}

	var hasHuman, hasAnimal, hasObject bool
	for _, d := range detections {
		switch {
		case d.ClassName == humanClass:
			hasHuman = true
		case isAnimal(d.ClassName):
			hasAnimal = true
		default:
			hasObject = true
		}
	}

	var matched []types.IntrusionType
	if hasHuman {
		matched = append(matched, types.IntrusionHuman)
	}
	if hasAnimal {
		matched = append(matched, types.IntrusionAnimal)
	}
	if hasObject {
		matched = append(matched, types.IntrusionObject)
	}

	switch len(matched) {
	case 0:
		return types.IntrusionUnknown
	case 1:
		return matched[0]
	default:
		return types.IntrusionMultiple
	}
}

func isAnimal(class string) bool {
	_, ok := animalClasses[class]
	return ok
}
