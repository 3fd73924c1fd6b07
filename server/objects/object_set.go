package objects

//ObjectSet maps every object type of a transfer to its ordered item ids.
//Types without items are never present.
type ObjectSet map[ObjectType][]int64

func NewObjectSet() ObjectSet {
	return make(ObjectSet)
}

//Add appends ids to the type. Adding nothing leaves the type absent.
func (set ObjectSet) Add(t ObjectType, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	set[t] = append(set[t], ids...)
}

//Types returns the present types in transfer order.
func (set ObjectSet) Types() []ObjectType {
	types := make([]ObjectType, 0, len(set))
	for _, t := range All() {
		if len(set[t]) > 0 {
			types = append(types, t)
		}
	}
	return types
}

func (set ObjectSet) Has(t ObjectType) bool {
	return len(set[t]) > 0
}

//Total is the number of items over all types.
func (set ObjectSet) Total() int {
	total := 0
	for _, ids := range set {
		total += len(ids)
	}
	return total
}

//Counts returns the number of items per type name, for logging and display.
func (set ObjectSet) Counts() map[string]int {
	counts := make(map[string]int, len(set))
	for t, ids := range set {
		counts[t.String()] = len(ids)
	}
	return counts
}
