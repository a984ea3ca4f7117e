package docjar

// Reserved document fields. Their names are part of the stored format and
// must not change.
const (
	FieldID             = "_id"
	FieldType           = "_py_type"
	FieldTypePath       = "path"
	FieldPersistentType = "_py_persistent_type"
	FieldFactory        = "_py_factory"
	FieldFactoryArgs    = "_py_factory_args"
	FieldConstant       = "_py_constant"
	FieldDictData       = "dict_data"

	// TypeMarker is the FieldType value of a bare type reference.
	TypeMarker = "type"

	DefaultSerialField = "_py_serial"
)

// markerFields are the keys that make a map one of the tagged forms.
var markerFields = []string{FieldType, FieldPersistentType, FieldFactory, FieldConstant, FieldDictData}
