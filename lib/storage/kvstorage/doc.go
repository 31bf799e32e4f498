// Package kvstorage implements storage.IStorage on top of any kv.IStore.
//
// Studies and trials are stored as serialized documents (json or gob, see
// package serializer) under the following keys:
//
//	meta/next_study_id          last assigned study id
//	meta/next_trial_id          last assigned trial id
//	study/name/<name>           study id of a study name
//	study/<id>                  study document (name, direction, attrs)
//	study/<id>/trials           number of trials of the study
//	study/<id>/trial/<number>   trial id of a trial number
//	trial/<id>                  trial document
//
// Attribute values are kept as JSON and parameters as internal value plus
// distribution envelope, so the documents only contain concrete types.
//
// All writes of one process are serialized by a mutex. A destination has a
// single writer (the dump pass holding the dump lock), which is the setup
// this package is meant for. Several processes writing the same backend
// concurrently are not supported.
//
// Usage Example:
//
//	store, _ := bstore.NewBadgerStore(bstore.DefaultConfig("data/dump"))
//	dst := kvstorage.NewStorage(store, serializer.NewGOBSerializer())
//	defer dst.Close()
package kvstorage
