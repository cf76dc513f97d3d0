package postgres

// Query names are constants rather than inlined literals, even though
// this adapter only needs a handful of them.
const (
	queryInsertObservation = `
INSERT INTO observation (message_id, station, dataset, data_id, observation_time, publish_time, canonical_link, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (message_id, station) DO NOTHING`

	queryGetStationByWIGOS = `
SELECT wigos_id, name, lon, lat, alt, facility_type, dataset_ids
FROM station WHERE wigos_id = $1`

	queryGetDatasetByID = `
SELECT id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link
FROM dataset WHERE id = $1`

	queryActiveNodes = `
SELECT id, name, host, port, tls_enabled, tls_insecure_skip_verify, username, password,
       active, discovery_metadata_url, stations_url, verify_ssl
FROM node WHERE active = true AND host <> ''`

	queryGetNode = `
SELECT id, name, host, port, tls_enabled, tls_insecure_skip_verify, username, password,
       active, discovery_metadata_url, stations_url, verify_ssl
FROM node WHERE id = $1`

	queryDatasetsForNode = `
SELECT id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link
FROM dataset WHERE node_id = $1`

	queryUpsertDataset = `
INSERT INTO dataset (id, node_id, topic, status, title, data_policy, topic_hierarchy, self_link, canonical_link, collection_link, metadata_created, metadata_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  node_id = EXCLUDED.node_id, topic = EXCLUDED.topic, status = EXCLUDED.status,
  title = EXCLUDED.title, data_policy = EXCLUDED.data_policy, topic_hierarchy = EXCLUDED.topic_hierarchy,
  self_link = EXCLUDED.self_link, canonical_link = EXCLUDED.canonical_link, collection_link = EXCLUDED.collection_link,
  metadata_updated = EXCLUDED.metadata_updated`

	queryMarkDatasetsDeleted = `
UPDATE dataset SET status = 'deleted' WHERE node_id = $1 AND id <> ALL($2) AND status <> 'deleted'`

	queryUpsertStation = `
INSERT INTO station (wigos_id, name, lon, lat, alt, facility_type, dataset_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (wigos_id) DO UPDATE SET
  name = EXCLUDED.name, lon = EXCLUDED.lon, lat = EXCLUDED.lat, alt = EXCLUDED.alt,
  facility_type = EXCLUDED.facility_type, dataset_ids = EXCLUDED.dataset_ids`

	querySyncLogInsert = `
INSERT INTO sync_log (node_id, kind, started_at, finished_at, found, created, updated, deleted, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)
